package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/examcore/pkg/storage"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// foreignKeyViolation is the PostgreSQL SQLSTATE for foreign_key_violation
const foreignKeyViolation = "23503"

// checkViolation is the PostgreSQL SQLSTATE for check_violation
const checkViolation = "23514"

// Open opens and verifies the PostgreSQL connection pool
func Open(cfg storage.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(cfg.PostgresMaxLifetime)
	db.SetConnMaxIdleTime(cfg.PostgresMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PostgresTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn returns an
// error or panics, and committed otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint violation, optionally on a
// specific constraint
func IsUniqueViolation(err error, constraint ...string) bool {
	return hasCode(err, uniqueViolation, constraint...)
}

// IsForeignKeyViolation reports whether err is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, foreignKeyViolation)
}

// IsCheckViolation reports whether err is a check constraint violation
func IsCheckViolation(err error, constraint ...string) bool {
	return hasCode(err, checkViolation, constraint...)
}

func hasCode(err error, code string, constraint ...string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != code {
		return false
	}
	if len(constraint) == 0 {
		return true
	}
	for _, c := range constraint {
		if pqErr.Constraint == c {
			return true
		}
	}
	return false
}
