package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

const userColumns = `
	u.id, u.role_id, r.name, u.fullname, u.email, u.password, u.phone_number, u.avatar,
	u.student_type, u.email_verified, u.is_active, u.is_profile_completed, u.created_at`

// UserStore reads and writes the account fields used by authentication
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// FindByEmail returns the non-deleted user with email, with its role name joined
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+userColumns+`
		FROM app_users u
		LEFT JOIN app_roles r ON r.id = u.role_id
		WHERE u.email = $1 AND u.is_deleted = FALSE
	`, normalizeEmail(email))
	return scanUser(row)
}

// FindByID returns the non-deleted user with id
func (s *UserStore) FindByID(ctx context.Context, id string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+userColumns+`
		FROM app_users u
		LEFT JOIN app_roles r ON r.id = u.role_id
		WHERE u.id = $1 AND u.is_deleted = FALSE
	`, id)
	return scanUser(row)
}

// Create inserts an inactive, unverified account
func (s *UserStore) Create(ctx context.Context, user NewUser) (*UserRecord, error) {
	now := time.Now().UTC()
	record := &UserRecord{
		ID:           uuid.NewString(),
		RoleID:       user.RoleID,
		Fullname:     user.Fullname,
		Email:        normalizeEmail(user.Email),
		PasswordHash: user.PasswordHash,
		PhoneNumber:  user.PhoneNumber,
		StudentType:  user.StudentType,
		CreatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, role_id, fullname, email, password, phone_number, student_type, referral_code, is_active, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, FALSE, $9, $9)
	`, record.ID, record.RoleID, record.Fullname, record.Email, record.PasswordHash,
		record.PhoneNumber, record.StudentType, user.ReferralCode, now)
	if postgres.IsUniqueViolation(err, "app_users_email_key") {
		return nil, apperr.Conflict("Email already registered")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return record, nil
}

// Activate marks the user verified and active
func (s *UserStore) Activate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET is_active = TRUE, email_verified = TRUE, updated_at = $2
		WHERE id = $1 AND is_deleted = FALSE
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}
	return requireRow(result)
}

// UpdatePassword replaces the stored password hash
func (s *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2, updated_at = $3
		WHERE id = $1 AND is_deleted = FALSE
	`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(result)
}

func scanUser(row *sql.Row) (*UserRecord, error) {
	var u UserRecord
	err := row.Scan(
		&u.ID, &u.RoleID, &u.RoleName, &u.Fullname, &u.Email, &u.PasswordHash, &u.PhoneNumber,
		&u.Avatar, &u.StudentType, &u.EmailVerified, &u.IsActive, &u.IsProfileCompleted, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}
