package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
	"github.com/platinummonkey/examcore/pkg/tests"
)

// maxCountWorkers bounds concurrent question_count queries for one session
const maxCountWorkers = 4

var sortableColumns = map[string]string{
	"session_name": "s.session_name",
	"created_at":   "s.created_at",
	"updated_at":   "s.updated_at",
}

var filterColumns = map[string]string{
	"is_active":    "s.is_active",
	"student_type": "s.student_type",
	"category":     "s.category",
}

const selectSession = `
	SELECT s.id, s.session_name, COALESCE(s.description, ''), s.category, s.student_type, s.is_active,
		(SELECT COUNT(*) FROM app_sessions_has_tests sht WHERE sht.session_id = s.id) AS test_count,
		s.created_at, s.updated_at
	FROM app_test_sessions s`

// Store handles test session persistence and the session-test schedule
type Store struct {
	db *sql.DB
}

// NewStore creates a new session store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s     Session
		count int
	)
	if err := row.Scan(&s.ID, &s.SessionName, &s.Description, &s.Category, &s.StudentType,
		&s.IsActive, &count, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.TestCount = &count
	return &s, nil
}

func listClause(p pagination.Params) (string, []interface{}, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if p.Search != "" {
		args = append(args, p.SearchPattern())
		conditions = append(conditions, fmt.Sprintf("LOWER(s.session_name) LIKE $%d%s", len(args), pagination.LikeEscape))
	}
	if p.FilterBy != "" && p.Filter != "" {
		column, ok := filterColumns[p.FilterBy]
		if !ok {
			return "", nil, apperr.BadRequest(fmt.Sprintf("cannot filter sessions by %q", p.FilterBy))
		}
		var value interface{} = p.Filter
		if p.FilterBy == "is_active" {
			value = p.Filter == "true"
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if len(conditions) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// List returns a page of sessions, each with its test_count
func (s *Store) List(ctx context.Context, p pagination.Params) ([]Session, int, error) {
	where, args, err := listClause(p)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_test_sessions s"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := fmt.Sprintf("%s%s %s LIMIT $%d OFFSET $%d",
		selectSession, where, p.OrderBy(sortableColumns, "s.created_at"), len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, total, rows.Err()
}

// Get retrieves a session with its scheduled tests and their question counts
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, selectSession+" WHERE s.id = $1", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	scheduled, err := s.scheduledTests(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.fillQuestionCounts(ctx, scheduled); err != nil {
		return nil, err
	}
	session.Tests = scheduled
	return session, nil
}

func (s *Store) scheduledTests(ctx context.Context, sessionID string) ([]SessionTest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.test_name, sht.start_date, sht.end_date, sht.weight, sht.multiplier
		FROM app_sessions_has_tests sht
		JOIN app_tests t ON t.id = sht.test_id
		WHERE sht.session_id = $1
		ORDER BY sht.start_date ASC NULLS LAST, t.test_name ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session tests: %w", err)
	}
	defer rows.Close()

	scheduled := []SessionTest{}
	for rows.Next() {
		var t SessionTest
		if err := rows.Scan(&t.TestID, &t.TestName, &t.StartDate, &t.EndDate, &t.Weight, &t.Multiplier); err != nil {
			return nil, fmt.Errorf("failed to scan session test: %w", err)
		}
		scheduled = append(scheduled, t)
	}
	return scheduled, rows.Err()
}

// fillQuestionCounts runs one count query per test, a few at a time
func (s *Store) fillQuestionCounts(ctx context.Context, scheduled []SessionTest) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCountWorkers)

	for i := range scheduled {
		i := i
		g.Go(func() error {
			count, err := tests.CountQuestions(ctx, s.db, scheduled[i].TestID)
			if err != nil {
				return err
			}
			scheduled[i].QuestionCount = count
			return nil
		})
	}
	return g.Wait()
}

// Create inserts a session and its schedule in one transaction
func (s *Store) Create(ctx context.Context, req CreateSessionRequest, links []Link) (string, error) {
	id := uuid.NewString()
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := time.Now().UTC()

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_test_sessions (id, session_name, description, category, student_type, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, id, req.SessionName, req.Description, req.Category, req.StudentType, active, now); err != nil {
			return err
		}
		return insertLinks(ctx, tx, id, links)
	})
	if err != nil {
		return "", mapWriteError(err, "create")
	}
	return id, nil
}

// Update applies scalar changes and, when links is non-nil, replaces the schedule
func (s *Store) Update(ctx context.Context, id string, c Changes, links *[]Link) error {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if c.SessionName != nil {
		set("session_name", *c.SessionName)
	}
	if c.Description != nil {
		set("description", *c.Description)
	}
	if c.Category != nil {
		set("category", *c.Category)
	}
	if c.StudentType != nil {
		set("student_type", *c.StudentType)
	}
	if c.IsActive != nil {
		set("is_active", *c.IsActive)
	}
	set("updated_at", time.Now().UTC())
	args = append(args, id)
	query := fmt.Sprintf("UPDATE app_test_sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		if links == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM app_sessions_has_tests WHERE session_id = $1", id); err != nil {
			return err
		}
		return insertLinks(ctx, tx, id, *links)
	})
	if err != nil {
		return mapWriteError(err, "update")
	}
	return nil
}

// Delete removes a session; its schedule links cascade
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM app_test_sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireAffected(result)
}

func insertLinks(ctx context.Context, tx *sql.Tx, sessionID string, links []Link) error {
	for _, link := range links {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_sessions_has_tests (id, session_id, test_id, start_date, end_date, weight, multiplier)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), sessionID, link.TestID, link.StartDate, link.EndDate, link.Weight, link.Multiplier); err != nil {
			return err
		}
	}
	return nil
}

func mapWriteError(err error, op string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case postgres.IsForeignKeyViolation(err):
		return apperr.BadRequest("One or more tests do not exist")
	case postgres.IsUniqueViolation(err, "app_sessions_has_tests_session_test_key"):
		return apperr.BadRequest("A test can only be scheduled once per session")
	case postgres.IsCheckViolation(err):
		return apperr.BadRequest("start_date must not be after end_date")
	default:
		return fmt.Errorf("failed to %s session: %w", op, err)
	}
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return apperr.NotFound("Session not found")
	}
	return nil
}
