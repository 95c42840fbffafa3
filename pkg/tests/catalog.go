package tests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/rbac"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

var sortableColumns = map[string]string{
	"test_name":  "t.test_name",
	"created_at": "t.created_at",
	"updated_at": "t.updated_at",
}

// RowQuerier is satisfied by *sql.DB and *sql.Tx
type RowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// CountQuestions returns the number of questions in a test without loading them
func CountQuestions(ctx context.Context, db RowQuerier, testID string) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_questions WHERE test_id = $1", testID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return count, nil
}

// Catalog handles tests, their questions and their options
type Catalog struct {
	db       *sql.DB
	schedule *Schedule
}

// NewCatalog creates a test catalog
func NewCatalog(db *sql.DB, schedule *Schedule) *Catalog {
	return &Catalog{db: db, schedule: schedule}
}

// CountQuestions returns the question count of one test
func (c *Catalog) CountQuestions(ctx context.Context, testID string) (int, error) {
	return CountQuestions(ctx, c.db, testID)
}

// List returns a page of tests. filter_by=session_id restricts to one session's tests.
func (c *Catalog) List(ctx context.Context, p pagination.Params) ([]Test, int, error) {
	var (
		joins      string
		conditions []string
		args       []interface{}
	)
	if p.Search != "" {
		args = append(args, p.SearchPattern())
		conditions = append(conditions, fmt.Sprintf("LOWER(t.test_name) LIKE $%d%s", len(args), pagination.LikeEscape))
	}
	if p.FilterBy != "" && p.Filter != "" {
		if p.FilterBy != "session_id" {
			return nil, 0, apperr.BadRequest(fmt.Sprintf("cannot filter tests by %q", p.FilterBy))
		}
		sessionID, err := uuid.Parse(p.Filter)
		if err != nil {
			return nil, 0, apperr.BadRequest("Invalid session_id format")
		}
		joins = " JOIN app_sessions_has_tests sht ON sht.test_id = t.id"
		args = append(args, sessionID.String())
		conditions = append(conditions, fmt.Sprintf("sht.session_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_tests t"+joins+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tests: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.test_name,
			(SELECT COUNT(*) FROM app_questions q WHERE q.test_id = t.id) AS question_count,
			t.created_at, t.updated_at
		FROM app_tests t%s%s %s LIMIT $%d OFFSET $%d`,
		joins, where, p.OrderBy(sortableColumns, "t.created_at"), len(args)+1, len(args)+2)

	rows, err := c.db.QueryContext(ctx, query, append(args, p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	list := []Test{}
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.TestName, &t.QuestionCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan test: %w", err)
		}
		list = append(list, t)
	}
	return list, total, rows.Err()
}

// GetTestDetail returns a test with every question and option. is_correct is filled
// in only for elevated role kinds; all options are returned either way.
func (c *Catalog) GetTestDetail(ctx context.Context, id string, kind rbac.RoleKind) (*TestDetail, error) {
	var detail TestDetail
	err := c.db.QueryRowContext(ctx,
		"SELECT id, test_name, created_at, updated_at FROM app_tests WHERE id = $1", id,
	).Scan(&detail.ID, &detail.TestName, &detail.CreatedAt, &detail.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Test not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	window, err := c.schedule.ResolveTestWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.StartDate, detail.EndDate = window.StartDate, window.EndDate

	questions, err := c.loadQuestions(ctx, id, kind.IsElevated())
	if err != nil {
		return nil, err
	}
	detail.Questions = questions
	detail.QuestionCount = len(questions)
	return &detail, nil
}

func (c *Catalog) loadQuestions(ctx context.Context, testID string, withKey bool) ([]Question, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, question, discussion, question_image_url, discussion_image_url
		FROM app_questions
		WHERE test_id = $1
		ORDER BY position ASC, created_at ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	questions := []Question{}
	index := map[string]int{}
	for rows.Next() {
		q := Question{Options: []Option{}}
		if err := rows.Scan(&q.ID, &q.Question, &q.Discussion, &q.QuestionImageURL, &q.DiscussionImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return questions, nil
	}

	optionRows, err := c.db.QueryContext(ctx, `
		SELECT o.id, o.question_id, o.label, o.image_url, o.is_correct
		FROM app_options o
		JOIN app_questions q ON q.id = o.question_id
		WHERE q.test_id = $1
		ORDER BY o.position ASC, o.created_at ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list options: %w", err)
	}
	defer optionRows.Close()

	for optionRows.Next() {
		var (
			o          Option
			questionID string
			isCorrect  bool
		)
		if err := optionRows.Scan(&o.ID, &questionID, &o.Label, &o.ImageURL, &isCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		if withKey {
			o.IsCorrect = &isCorrect
		}
		i, ok := index[questionID]
		if !ok {
			continue
		}
		questions[i].Options = append(questions[i].Options, o)
	}
	return questions, optionRows.Err()
}

// Create inserts a test with its questions and options, and links it to sessionID
// when given, all in one transaction
func (c *Catalog) Create(ctx context.Context, req CreateTestRequest) (string, error) {
	if err := validateQuestions(req.Questions); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO app_tests (id, test_name, created_at, updated_at) VALUES ($1, $2, $3, $3)",
			id, req.TestName, now); err != nil {
			return err
		}
		if err := insertQuestions(ctx, tx, id, req.Questions, now); err != nil {
			return err
		}
		if req.SessionID == nil || *req.SessionID == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO app_sessions_has_tests (id, session_id, test_id, weight, multiplier)
			VALUES ($1, $2, $3, 1, 1)
		`, uuid.NewString(), strings.ToLower(*req.SessionID), id)
		return err
	})
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return "", apperr.BadRequest("Session not found")
		}
		return "", fmt.Errorf("failed to create test: %w", err)
	}
	return id, nil
}

// Update renames a test and, when questions is non-nil, replaces its questions
func (c *Catalog) Update(ctx context.Context, id string, req UpdateTestRequest) error {
	if req.Questions != nil {
		if err := validateQuestions(*req.Questions); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		var result sql.Result
		var err error
		if req.TestName != nil && strings.TrimSpace(*req.TestName) != "" {
			result, err = tx.ExecContext(ctx,
				"UPDATE app_tests SET test_name = $1, updated_at = $2 WHERE id = $3", *req.TestName, now, id)
		} else {
			result, err = tx.ExecContext(ctx, "UPDATE app_tests SET updated_at = $1 WHERE id = $2", now, id)
		}
		if err != nil {
			return err
		}
		if err := requireAffected(result, "Test not found"); err != nil {
			return err
		}
		if req.Questions == nil {
			return nil
		}
		// options cascade with their questions
		if _, err := tx.ExecContext(ctx, "DELETE FROM app_questions WHERE test_id = $1", id); err != nil {
			return err
		}
		return insertQuestions(ctx, tx, id, *req.Questions, now)
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return fmt.Errorf("failed to update test: %w", err)
	}
	return nil
}

// Delete removes a test; questions, options, schedule links and answers cascade
func (c *Catalog) Delete(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM app_tests WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}
	return requireAffected(result, "Test not found")
}

func insertQuestions(ctx context.Context, tx *sql.Tx, testID string, questions []QuestionRequest, now time.Time) error {
	for i, q := range questions {
		questionID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_questions (id, test_id, question, discussion, question_image_url, discussion_image_url, position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		`, questionID, testID, q.Question, q.Discussion, q.QuestionImageURL, q.DiscussionImageURL, i, now); err != nil {
			return err
		}
		for j, o := range q.Options {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO app_options (id, question_id, label, is_correct, image_url, position, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			`, uuid.NewString(), questionID, o.Label, o.IsCorrect, o.ImageURL, j, now); err != nil {
				return err
			}
		}
	}
	return nil
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
