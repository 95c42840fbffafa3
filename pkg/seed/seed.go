package seed

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/rbac"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

// AllPermissions in a role's permission list grants every declared permission
const AllPermissions = "*"

// File is the bootstrap document
type File struct {
	Permissions []string   `yaml:"permissions"`
	Roles       []RoleSpec `yaml:"roles"`
	Admin       *AdminSpec `yaml:"admin,omitempty"`
}

// RoleSpec declares a role and the permission names it holds
type RoleSpec struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// AdminSpec declares the first administrator account
type AdminSpec struct {
	Fullname string `yaml:"fullname"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// Hasher hashes the admin password
type Hasher interface {
	Hash(password string) (string, error)
}

// Summary reports what Apply wrote
type Summary struct {
	Permissions  int
	Roles        int
	Links        int
	AdminCreated bool
}

// Load parses and validates a seed document. An empty permission list means
// every permission the application knows.
func Load(r io.Reader) (*File, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(f.Permissions) == 0 {
		f.Permissions = rbac.AllPermissions()
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	declared := make(map[string]bool, len(f.Permissions))
	for _, name := range f.Permissions {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("permission names must not be empty")
		}
		declared[name] = true
	}

	roles := make(map[string]bool, len(f.Roles))
	for _, role := range f.Roles {
		if strings.TrimSpace(role.Name) == "" {
			return fmt.Errorf("role names must not be empty")
		}
		if roles[role.Name] {
			return fmt.Errorf("role %q declared twice", role.Name)
		}
		roles[role.Name] = true
		for _, name := range role.Permissions {
			if name != AllPermissions && !declared[name] {
				return fmt.Errorf("role %q references undeclared permission %q", role.Name, name)
			}
		}
	}

	if f.Admin != nil {
		if f.Admin.Email == "" || f.Admin.Password == "" {
			return fmt.Errorf("admin requires email and password")
		}
		if f.Admin.Role == "" {
			f.Admin.Role = rbac.RoleAdmin
		}
		if !roles[f.Admin.Role] {
			return fmt.Errorf("admin role %q is not declared", f.Admin.Role)
		}
	}
	return nil
}

// Apply writes the document in one transaction. It is idempotent: existing
// permissions, roles and links are kept and an existing admin email is left untouched.
func Apply(ctx context.Context, db *sql.DB, f *File, hasher Hasher, logger *observability.Logger) (Summary, error) {
	var summary Summary

	var passwordHash string
	if f.Admin != nil {
		hash, err := hasher.Hash(f.Admin.Password)
		if err != nil {
			return summary, fmt.Errorf("failed to hash admin password: %w", err)
		}
		passwordHash = hash
	}

	err := postgres.WithTx(ctx, db, func(tx *sql.Tx) error {
		permissionIDs := make(map[string]string, len(f.Permissions))
		for _, name := range f.Permissions {
			id, err := upsertName(ctx, tx, "app_permissions", name)
			if err != nil {
				return fmt.Errorf("failed to seed permission %q: %w", name, err)
			}
			permissionIDs[name] = id
			summary.Permissions++
		}

		roleIDs := make(map[string]string, len(f.Roles))
		for _, role := range f.Roles {
			id, err := upsertName(ctx, tx, "app_roles", role.Name)
			if err != nil {
				return fmt.Errorf("failed to seed role %q: %w", role.Name, err)
			}
			roleIDs[role.Name] = id
			summary.Roles++

			for _, name := range expand(role.Permissions, f.Permissions) {
				result, err := tx.ExecContext(ctx, `
					INSERT INTO app_roles_permissions (id, role_id, permission_id)
					VALUES ($1, $2, $3)
					ON CONFLICT (role_id, permission_id) DO NOTHING
				`, uuid.NewString(), id, permissionIDs[name])
				if err != nil {
					return fmt.Errorf("failed to grant %q to role %q: %w", name, role.Name, err)
				}
				if n, _ := result.RowsAffected(); n > 0 {
					summary.Links++
				}
			}
		}

		if f.Admin == nil {
			return nil
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO app_users (id, role_id, fullname, email, password, email_verified, is_active)
			VALUES ($1, $2, $3, $4, $5, TRUE, TRUE)
			ON CONFLICT (email) DO NOTHING
		`, uuid.NewString(), roleIDs[f.Admin.Role], f.Admin.Fullname, strings.ToLower(strings.TrimSpace(f.Admin.Email)), passwordHash)
		if err != nil {
			return fmt.Errorf("failed to seed admin user: %w", err)
		}
		n, _ := result.RowsAffected()
		summary.AdminCreated = n > 0
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	if logger != nil {
		logger.WithFields(map[string]interface{}{
			"permissions":   summary.Permissions,
			"roles":         summary.Roles,
			"links_added":   summary.Links,
			"admin_created": summary.AdminCreated,
		}).Info("seed applied")
	}
	return summary, nil
}

// upsertName inserts a named row or returns the id of the existing one
func upsertName(ctx context.Context, tx *sql.Tx, table, name string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, table), uuid.NewString(), name).Scan(&id)
	return id, err
}

func expand(names, all []string) []string {
	for _, name := range names {
		if name == AllPermissions {
			return all
		}
	}
	return names
}
