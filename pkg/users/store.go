package users

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

const selectUser = `
	SELECT u.id, u.fullname, u.email, u.phone_number, u.avatar, u.student_type,
		u.referral_code, u.referred_by, u.birth_date, u.gender, u.religion, u.identity_number,
		u.email_verified, u.is_active, u.is_profile_completed, u.role_id, r.name,
		u.created_at, u.updated_at
	FROM app_users u
	LEFT JOIN app_roles r ON r.id = u.role_id`

var sortableColumns = map[string]string{
	"fullname":   "u.fullname",
	"email":      "u.email",
	"created_at": "u.created_at",
	"updated_at": "u.updated_at",
}

// filterColumns are the filter_by values accepted by List
var filterColumns = map[string]string{
	"role_id":      "u.role_id",
	"is_active":    "u.is_active",
	"student_type": "u.student_type",
}

// Store handles user persistence. Soft-deleted users are invisible to every method.
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u        User
		roleID   *string
		roleName *string
	)
	err := row.Scan(
		&u.ID, &u.Fullname, &u.Email, &u.PhoneNumber, &u.Avatar, &u.StudentType,
		&u.ReferralCode, &u.ReferredBy, &u.BirthDate, &u.Gender, &u.Religion, &u.IdentityNumber,
		&u.EmailVerified, &u.IsActive, &u.IsProfileCompleted, &roleID, &roleName,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if roleID != nil {
		u.Role = &RoleRef{ID: *roleID}
		if roleName != nil {
			u.Role.Name = *roleName
		}
	}
	return &u, nil
}

func listClause(p pagination.Params) (string, []interface{}, error) {
	conditions := []string{"u.is_deleted = FALSE"}
	var args []interface{}

	if p.Search != "" {
		args = append(args, p.SearchPattern())
		conditions = append(conditions, fmt.Sprintf("(LOWER(u.fullname) LIKE $%d%s OR LOWER(u.email) LIKE $%d%s)", len(args), pagination.LikeEscape, len(args), pagination.LikeEscape))
	}

	if p.FilterBy != "" && p.Filter != "" {
		column, ok := filterColumns[p.FilterBy]
		if !ok {
			return "", nil, apperr.BadRequest(fmt.Sprintf("cannot filter users by %q", p.FilterBy))
		}
		var value interface{} = p.Filter
		switch p.FilterBy {
		case "is_active":
			value = p.Filter == "true"
		case "role_id":
			if _, err := uuid.Parse(p.Filter); err != nil {
				return "", nil, apperr.BadRequest("filter must be a valid UUID")
			}
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// List returns a page of users and the total matching count
func (s *Store) List(ctx context.Context, p pagination.Params) ([]User, int, error) {
	where, args, err := listClause(p)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_users u"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := fmt.Sprintf("%s%s %s LIMIT $%d OFFSET $%d",
		selectUser, where, p.OrderBy(sortableColumns, "u.created_at"), len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

// Get retrieves a user by ID
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUser+" WHERE u.id = $1 AND u.is_deleted = FALSE", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// Create inserts an account created by an administrator. Such accounts skip email verification.
func (s *Store) Create(ctx context.Context, req CreateUserRequest, passwordHash string) (string, error) {
	id := uuid.NewString()
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, role_id, fullname, email, password, phone_number, student_type,
			referral_code, referred_by, email_verified, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11, $11)
	`, id, req.RoleID, req.Fullname, strings.ToLower(strings.TrimSpace(req.Email)), passwordHash,
		req.PhoneNumber, req.StudentType, req.ReferralCode, req.ReferredBy, active, now)
	if err != nil {
		return "", mapWriteError(err, "create")
	}
	return id, nil
}

// Update applies the present fields of c
func (s *Store) Update(ctx context.Context, id string, c Changes) error {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if c.RoleID != nil {
		set("role_id", *c.RoleID)
	}
	if c.Fullname != nil {
		set("fullname", *c.Fullname)
	}
	if c.Email != nil {
		set("email", strings.ToLower(strings.TrimSpace(*c.Email)))
	}
	if c.PhoneNumber != nil {
		set("phone_number", *c.PhoneNumber)
	}
	if c.Avatar != nil {
		set("avatar", *c.Avatar)
	}
	if c.StudentType != nil {
		set("student_type", *c.StudentType)
	}
	if c.BirthDate != nil {
		set("birth_date", *c.BirthDate)
	}
	if c.Gender != nil {
		set("gender", *c.Gender)
	}
	if c.Religion != nil {
		set("religion", *c.Religion)
	}
	if c.IdentityNumber != nil {
		set("identity_number", *c.IdentityNumber)
	}
	set("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE app_users SET %s WHERE id = $%d AND is_deleted = FALSE",
		strings.Join(sets, ", "), len(args))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err, "update")
	}
	return requireAffected(result)
}

// SetActive sets the active flag
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE app_users SET is_active = $1, updated_at = $2 WHERE id = $3 AND is_deleted = FALSE",
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireAffected(result)
}

// SetProfileCompleted records whether the profile has every required field
func (s *Store) SetProfileCompleted(ctx context.Context, id string, completed bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE app_users SET is_profile_completed = $1 WHERE id = $2", completed, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// SoftDelete flags a user deleted and inactive. The row is kept for answer history.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE app_users SET is_deleted = TRUE, is_active = FALSE, updated_at = $1 WHERE id = $2 AND is_deleted = FALSE",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result)
}

func mapWriteError(err error, op string) error {
	switch {
	case postgres.IsUniqueViolation(err, "app_users_email_key"):
		return apperr.Conflict("Email already registered")
	case postgres.IsForeignKeyViolation(err):
		return apperr.BadRequest("Referenced role or user does not exist")
	default:
		return fmt.Errorf("failed to %s user: %w", op, err)
	}
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}
