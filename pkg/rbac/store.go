package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

var sortableColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// PermissionStore handles permission persistence
type PermissionStore struct {
	db *sql.DB
}

// NewPermissionStore creates a new permission store
func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

// List returns a page of permissions and the total matching count
func (s *PermissionStore) List(ctx context.Context, p pagination.Params) ([]Permission, int, error) {
	where, args := searchClause(p)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_permissions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count permissions: %w", err)
	}

	query := fmt.Sprintf("SELECT id, name, created_at, updated_at FROM app_permissions%s %s LIMIT $%d OFFSET $%d",
		where, p.OrderBy(sortableColumns, "created_at"), len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	permissions := []Permission{}
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, perm)
	}

	return permissions, total, rows.Err()
}

// Get retrieves a permission by ID
func (s *PermissionStore) Get(ctx context.Context, id string) (*Permission, error) {
	var perm Permission
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM app_permissions WHERE id = $1", id,
	).Scan(&perm.ID, &perm.Name, &perm.CreatedAt, &perm.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Permission not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &perm, nil
}

// Create inserts a permission with a unique name
func (s *PermissionStore) Create(ctx context.Context, name string) (*Permission, error) {
	now := time.Now().UTC()
	perm := &Permission{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO app_permissions (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)",
		perm.ID, perm.Name, perm.CreatedAt, perm.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return nil, apperr.Conflict("A permission with this name already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return perm, nil
}

// Update renames a permission
func (s *PermissionStore) Update(ctx context.Context, id, name string) (*Permission, error) {
	var perm Permission
	err := s.db.QueryRowContext(ctx, `
		UPDATE app_permissions SET name = $1, updated_at = $2
		WHERE id = $3
		RETURNING id, name, created_at, updated_at
	`, name, time.Now().UTC(), id).Scan(&perm.ID, &perm.Name, &perm.CreatedAt, &perm.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Permission not found")
	}
	if postgres.IsUniqueViolation(err) {
		return nil, apperr.Conflict("A permission with this name already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}
	return &perm, nil
}

// Delete removes a permission and its role links
func (s *PermissionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM app_permissions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return requireAffected(result, "Permission not found")
}

// RolesWithPermission returns the ids of roles holding a permission
func (s *PermissionStore) RolesWithPermission(ctx context.Context, permissionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role_id FROM app_roles_permissions WHERE permission_id = $1", permissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles for permission: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NamesForRole resolves the permission names granted to a role
func (s *PermissionStore) NamesForRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name
		FROM app_roles_permissions rp
		JOIN app_permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name ASC
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role permissions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RoleStore handles role persistence and role-permission links
type RoleStore struct {
	db *sql.DB
}

// NewRoleStore creates a new role store
func NewRoleStore(db *sql.DB) *RoleStore {
	return &RoleStore{db: db}
}

// List returns a page of roles without their permissions
func (s *RoleStore) List(ctx context.Context, p pagination.Params) ([]Role, int, error) {
	where, args := searchClause(p)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_roles"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count roles: %w", err)
	}

	query := fmt.Sprintf("SELECT id, name, created_at, updated_at FROM app_roles%s %s LIMIT $%d OFFSET $%d",
		where, p.OrderBy(sortableColumns, "created_at"), len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	return roles, total, rows.Err()
}

// Get retrieves a role by ID with its permissions
func (s *RoleStore) Get(ctx context.Context, id string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM app_roles WHERE id = $1", id,
	).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.created_at, p.updated_at
		FROM app_roles_permissions rp
		JOIN app_permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	role.Permissions = []Permission{}
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		role.Permissions = append(role.Permissions, perm)
	}

	return &role, rows.Err()
}

// GetByName retrieves a role by its exact name, without permissions
func (s *RoleStore) GetByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM app_roles WHERE name = $1", name,
	).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// Create inserts a role and its permission links in one transaction
func (s *RoleStore) Create(ctx context.Context, name string, permissionIDs []string) (*Role, error) {
	now := time.Now().UTC()
	role := &Role{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO app_roles (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)",
			role.ID, role.Name, role.CreatedAt, role.UpdatedAt,
		); err != nil {
			return err
		}
		return linkPermissions(ctx, tx, role.ID, permissionIDs)
	})
	if err != nil {
		return nil, mapRoleWriteError(err, "create")
	}

	return role, nil
}

// Update renames a role and, when permissionIDs is non-nil, replaces its permission set
func (s *RoleStore) Update(ctx context.Context, id string, name *string, permissionIDs *[]string) error {
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		query := "UPDATE app_roles SET updated_at = $1 WHERE id = $2"
		args := []interface{}{time.Now().UTC(), id}
		if name != nil {
			query = "UPDATE app_roles SET name = $3, updated_at = $1 WHERE id = $2"
			args = append(args, *name)
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if err := requireAffected(result, "Role not found"); err != nil {
			return err
		}

		if permissionIDs == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM app_roles_permissions WHERE role_id = $1", id); err != nil {
			return err
		}
		return linkPermissions(ctx, tx, id, *permissionIDs)
	})
	if err != nil {
		return mapRoleWriteError(err, "update")
	}
	return nil
}

// Delete removes a role; its permission links cascade and users lose the role
func (s *RoleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM app_roles WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireAffected(result, "Role not found")
}

func linkPermissions(ctx context.Context, tx *sql.Tx, roleID string, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(permissionIDs))
	for _, permissionID := range permissionIDs {
		if seen[permissionID] {
			continue
		}
		seen[permissionID] = true

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO app_roles_permissions (id, role_id, permission_id) VALUES ($1, $2, $3)",
			uuid.NewString(), roleID, permissionID,
		); err != nil {
			return err
		}
	}
	return nil
}

func mapRoleWriteError(err error, op string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case postgres.IsUniqueViolation(err, "app_roles_name_key"):
		return apperr.Conflict("A role with this name already exists")
	case postgres.IsForeignKeyViolation(err):
		return apperr.BadRequest("One or more permissions do not exist")
	default:
		return fmt.Errorf("failed to %s role: %w", op, err)
	}
}

func searchClause(p pagination.Params) (string, []interface{}) {
	if p.Search == "" {
		return "", nil
	}
	return " WHERE LOWER(name) LIKE $1" + pagination.LikeEscape, []interface{}{p.SearchPattern()}
}

func requireAffected(result sql.Result, notFound string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound(notFound)
	}
	return nil
}
