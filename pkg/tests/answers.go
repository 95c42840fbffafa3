package tests

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/pagination"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

// MsgTestNotAvailable rejects submissions outside the scheduled window
const MsgTestNotAvailable = "Test is not available"

var tracer = otel.Tracer("github.com/platinummonkey/examcore/pkg/tests")

// AnswerRecorder stores answer submissions
type AnswerRecorder struct {
	db       *sql.DB
	schedule *Schedule
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewAnswerRecorder creates an answer recorder. metrics may be nil.
func NewAnswerRecorder(db *sql.DB, schedule *Schedule, metrics *observability.Metrics) *AnswerRecorder {
	return &AnswerRecorder{
		db:       db,
		schedule: schedule,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Submit records one submission: a parent answer row and one row per answered
// question, in a single transaction. Every call creates a new answer; resubmitting
// the same payload yields a second answer id.
func (r *AnswerRecorder) Submit(ctx context.Context, userID string, req SubmitAnswerRequest) (answer *Answer, err error) {
	ctx, span := tracer.Start(ctx, "tests.SubmitAnswer")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.Message(err))
		}
		span.End()
	}()

	req, err = req.normalized()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("test.id", req.TestID),
		attribute.Int("answer.questions", len(req.Questions)),
	)

	window, err := r.schedule.ResolveTestWindow(ctx, req.TestID)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	if !window.Contains(now) {
		return nil, apperr.Forbidden(MsgTestNotAvailable)
	}

	id := uuid.NewString()
	err = postgres.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_user_answers (id, user_id, test_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
		`, id, userID, req.TestID, now); err != nil {
			return err
		}
		for _, qa := range req.Questions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO app_user_question_answers (id, answer_id, question_id, option_id, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.NewString(), id, qa.QuestionID, qa.OptionID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		switch {
		case postgres.IsForeignKeyViolation(err):
			return nil, apperr.BadRequest("Unknown test, question or option")
		case postgres.IsUniqueViolation(err, "app_user_question_answers_answer_question_key"):
			return nil, apperr.BadRequest("Each question can only be answered once")
		default:
			return nil, apperr.Internal(fmt.Errorf("failed to record answer: %w", err))
		}
	}

	r.metrics.RecordAnswerSubmitted()
	return &Answer{ID: id, UserID: userID, TestID: req.TestID, CreatedAt: now}, nil
}

var answerSortableColumns = map[string]string{
	"created_at": "a.created_at",
	"updated_at": "a.updated_at",
	"user_id":    "a.user_id",
	"test_id":    "a.test_id",
}

// AnswerFilter scopes an answer list. Empty fields do not filter.
type AnswerFilter struct {
	TestID string
	UserID string
}

// AnswerStore reads and deletes recorded submissions
type AnswerStore struct {
	db       *sql.DB
	schedule *Schedule
}

// NewAnswerStore creates an answer store
func NewAnswerStore(db *sql.DB, schedule *Schedule) *AnswerStore {
	return &AnswerStore{db: db, schedule: schedule}
}

// List returns a page of answers, newest first by default
func (s *AnswerStore) List(ctx context.Context, p pagination.Params, f AnswerFilter) ([]Answer, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if f.TestID != "" {
		args = append(args, f.TestID)
		conditions = append(conditions, fmt.Sprintf("a.test_id = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conditions = append(conditions, fmt.Sprintf("a.user_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_user_answers a"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count answers: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT a.id, a.user_id, a.test_id, t.test_name, a.created_at
		FROM app_user_answers a
		JOIN app_tests t ON t.id = a.test_id%s %s LIMIT $%d OFFSET $%d`,
		where, p.OrderBy(answerSortableColumns, "a.created_at"), len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit(), p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	answers := []Answer{}
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.UserID, &a.TestID, &a.TestName, &a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, total, rows.Err()
}

// Get returns a submission with each answered question, the answer key and the chosen options
func (s *AnswerStore) Get(ctx context.Context, id string) (*AnswerDetail, error) {
	var detail AnswerDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.user_id, a.test_id, t.test_name, a.created_at
		FROM app_user_answers a
		JOIN app_tests t ON t.id = a.test_id
		WHERE a.id = $1
	`, id).Scan(&detail.ID, &detail.UserID, &detail.TestID, &detail.TestName, &detail.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Test answer not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}

	window, err := s.schedule.ResolveTestWindow(ctx, detail.TestID)
	if err != nil {
		return nil, err
	}
	detail.StartDate, detail.EndDate = window.StartDate, window.EndDate

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.question, q.discussion, o.id, o.label, o.image_url, o.is_correct,
			EXISTS (
				SELECT 1 FROM app_user_question_answers uqa
				WHERE uqa.answer_id = $1 AND uqa.question_id = q.id AND uqa.option_id = o.id
			) AS is_selected
		FROM app_questions q
		JOIN app_options o ON o.question_id = q.id
		WHERE q.id IN (SELECT question_id FROM app_user_question_answers WHERE answer_id = $1)
		ORDER BY q.position ASC, q.id ASC, o.position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load answered questions: %w", err)
	}
	defer rows.Close()

	detail.Questions = []AnsweredQuestion{}
	for rows.Next() {
		var (
			q AnsweredQuestion
			o AnsweredOption
		)
		if err := rows.Scan(&q.ID, &q.Question, &q.Discussion, &o.ID, &o.Label, &o.ImageURL, &o.IsCorrect, &o.IsSelected); err != nil {
			return nil, fmt.Errorf("failed to scan answered question: %w", err)
		}
		last := len(detail.Questions) - 1
		if last < 0 || detail.Questions[last].ID != q.ID {
			q.Options = []AnsweredOption{}
			detail.Questions = append(detail.Questions, q)
			last++
		}
		detail.Questions[last].Options = append(detail.Questions[last].Options, o)
	}
	return &detail, rows.Err()
}

// Delete removes a submission and its question answers
func (s *AnswerStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM app_user_answers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete answer: %w", err)
	}
	return requireAffected(result, "Test answer not found")
}
