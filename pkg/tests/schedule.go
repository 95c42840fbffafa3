package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// Schedule looks up when a test is available
type Schedule struct {
	db *sql.DB
}

// NewSchedule creates a schedule lookup
func NewSchedule(db *sql.DB) *Schedule {
	return &Schedule{db: db}
}

// ResolveTestWindow returns the window of the test's session link with the soonest
// start_date, links without a start date last. A test in no session has an open window.
func (s *Schedule) ResolveTestWindow(ctx context.Context, testID string) (Window, error) {
	var w Window
	err := s.db.QueryRowContext(ctx, `
		SELECT start_date, end_date
		FROM app_sessions_has_tests
		WHERE test_id = $1
		ORDER BY start_date ASC NULLS LAST, id ASC
		LIMIT 1
	`, testID).Scan(&w.StartDate, &w.EndDate)
	if err == sql.ErrNoRows {
		return Window{}, nil
	}
	if err != nil {
		return Window{}, fmt.Errorf("failed to resolve test window: %w", err)
	}
	return w, nil
}
