package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/examcore/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions and roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS app_permissions (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS app_roles (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS app_roles_permissions (
					id UUID PRIMARY KEY,
					role_id UUID NOT NULL REFERENCES app_roles(id) ON DELETE CASCADE,
					permission_id UUID NOT NULL REFERENCES app_permissions(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT app_roles_permissions_role_permission_key UNIQUE (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_app_roles_permissions_permission_id ON app_roles_permissions(permission_id);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS app_users (
					id UUID PRIMARY KEY,
					role_id UUID REFERENCES app_roles(id) ON DELETE SET NULL,
					fullname VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					password VARCHAR(255) NOT NULL,
					phone_number VARCHAR(32),
					avatar TEXT,
					student_type VARCHAR(64),
					referral_code VARCHAR(32),
					referred_by UUID REFERENCES app_users(id) ON DELETE SET NULL,
					birth_date DATE,
					gender VARCHAR(16),
					religion VARCHAR(32),
					identity_number VARCHAR(64),
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT FALSE,
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					is_profile_completed BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT app_users_email_key UNIQUE (email)
				);

				CREATE INDEX IF NOT EXISTS idx_app_users_role_id ON app_users(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create test sessions, tests and schedule links",
			SQL: `
				CREATE TABLE IF NOT EXISTS app_test_sessions (
					id UUID PRIMARY KEY,
					session_name VARCHAR(255) NOT NULL,
					description TEXT,
					category VARCHAR(64),
					student_type VARCHAR(64),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS app_tests (
					id UUID PRIMARY KEY,
					test_name VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS app_sessions_has_tests (
					id UUID PRIMARY KEY,
					session_id UUID NOT NULL REFERENCES app_test_sessions(id) ON DELETE CASCADE,
					test_id UUID NOT NULL REFERENCES app_tests(id) ON DELETE CASCADE,
					start_date TIMESTAMPTZ,
					end_date TIMESTAMPTZ,
					weight INT NOT NULL DEFAULT 1,
					multiplier INT NOT NULL DEFAULT 1,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT app_sessions_has_tests_session_test_key UNIQUE (session_id, test_id),
					CONSTRAINT app_sessions_has_tests_window_check CHECK (start_date IS NULL OR end_date IS NULL OR start_date <= end_date)
				);

				CREATE INDEX IF NOT EXISTS idx_app_sessions_has_tests_test_id ON app_sessions_has_tests(test_id);
			`,
		},
		{
			Version:     4,
			Description: "Create questions and options",
			SQL: `
				CREATE TABLE IF NOT EXISTS app_questions (
					id UUID PRIMARY KEY,
					test_id UUID NOT NULL REFERENCES app_tests(id) ON DELETE CASCADE,
					question TEXT NOT NULL,
					discussion TEXT,
					question_image_url TEXT,
					discussion_image_url TEXT,
					position INT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS app_options (
					id UUID PRIMARY KEY,
					question_id UUID NOT NULL REFERENCES app_questions(id) ON DELETE CASCADE,
					label TEXT NOT NULL,
					is_correct BOOLEAN NOT NULL DEFAULT FALSE,
					image_url TEXT,
					position INT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_app_questions_test_id ON app_questions(test_id);
				CREATE INDEX IF NOT EXISTS idx_app_options_question_id ON app_options(question_id);
			`,
		},
		{
			Version:     5,
			Description: "Create user answers",
			SQL: `
				CREATE TABLE IF NOT EXISTS app_user_answers (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES app_users(id) ON DELETE CASCADE,
					test_id UUID NOT NULL REFERENCES app_tests(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS app_user_question_answers (
					id UUID PRIMARY KEY,
					answer_id UUID NOT NULL REFERENCES app_user_answers(id) ON DELETE CASCADE,
					question_id UUID NOT NULL REFERENCES app_questions(id) ON DELETE CASCADE,
					option_id UUID NOT NULL REFERENCES app_options(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT app_user_question_answers_answer_question_key UNIQUE (answer_id, question_id)
				);

				CREATE INDEX IF NOT EXISTS idx_app_user_answers_user_test ON app_user_answers(user_id, test_id);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		m := migration
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if logger != nil {
			logger.WithFields(map[string]interface{}{
				"version":     m.Version,
				"description": m.Description,
			}).Info("migration applied")
		}
	}

	return nil
}
