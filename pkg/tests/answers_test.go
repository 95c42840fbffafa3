package tests

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/pagination"
)

// capture records the value it is matched against
type capture struct{ value *string }

func (c capture) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.value = s
	}
	return ok
}

// sameAs matches only the value previously recorded by a capture
type sameAs struct{ value *string }

func (s sameAs) Match(v driver.Value) bool {
	got, ok := v.(string)
	return ok && *s.value != "" && got == *s.value
}

func newRecorder(t *testing.T) (*AnswerRecorder, sqlmock.Sqlmock, *observability.Metrics) {
	t.Helper()
	db, mock := newMockDB(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewAnswerRecorder(db, NewSchedule(db), metrics), mock, metrics
}

func twoAnswers() SubmitAnswerRequest {
	return SubmitAnswerRequest{
		TestID: testID,
		Questions: []QuestionAnswer{
			{QuestionID: questionA, OptionID: option1},
			{QuestionID: questionB, OptionID: option3},
		},
	}
}

func TestSubmit_OneParentTwoChildren(t *testing.T) {
	recorder, mock, metrics := newRecorder(t)

	var answerID string
	expectOpenWindow(mock, testID)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO app_user_answers").
		WithArgs(capture{&answerID}, studentID, testID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_user_question_answers").
		WithArgs(sqlmock.AnyArg(), sameAs{&answerID}, questionA, option1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_user_question_answers").
		WithArgs(sqlmock.AnyArg(), sameAs{&answerID}, questionB, option3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	answer, err := recorder.Submit(context.Background(), studentID, twoAnswers())
	require.NoError(t, err)
	assert.Equal(t, answerID, answer.ID)
	assert.Equal(t, studentID, answer.UserID)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AnswersSubmittedTotal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_ResubmissionCreatesSecondAnswer(t *testing.T) {
	recorder, mock, metrics := newRecorder(t)

	for i := 0; i < 2; i++ {
		expectOpenWindow(mock, testID)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO app_user_answers").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO app_user_question_answers").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO app_user_question_answers").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	first, err := recorder.Submit(context.Background(), studentID, twoAnswers())
	require.NoError(t, err)
	second, err := recorder.Submit(context.Background(), studentID, twoAnswers())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AnswersSubmittedTotal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_RollsBackOnChildFailure(t *testing.T) {
	recorder, mock, metrics := newRecorder(t)

	expectOpenWindow(mock, testID)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO app_user_answers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_user_question_answers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_user_question_answers").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := recorder.Submit(context.Background(), studentID, twoAnswers())
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "disk full")
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.AnswersSubmittedTotal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_UnknownOption(t *testing.T) {
	recorder, mock, _ := newRecorder(t)

	expectOpenWindow(mock, testID)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO app_user_answers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_user_question_answers").WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	_, err := recorder.Submit(context.Background(), studentID, twoAnswers())
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_DuplicateQuestionRejectedBeforeStore(t *testing.T) {
	recorder, mock, _ := newRecorder(t)

	req := SubmitAnswerRequest{
		TestID: testID,
		Questions: []QuestionAnswer{
			{QuestionID: questionA, OptionID: option1},
			{QuestionID: questionA, OptionID: option2},
		},
	}
	_, err := recorder.Submit(context.Background(), studentID, req)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Equal(t, "Each question can only be answered once", apperr.Message(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_OutsideWindow(t *testing.T) {
	recorder, mock, _ := newRecorder(t)
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	tests := []struct {
		name string
		now  time.Time
	}{
		{"before", start.Add(-time.Minute)},
		{"after", end.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.now = func() time.Time { return tt.now }
			expectWindow(mock, testID, start, end)

			_, err := recorder.Submit(context.Background(), studentID, twoAnswers())
			assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
			assert.Equal(t, MsgTestNotAvailable, apperr.Message(err))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmit_InsideWindow(t *testing.T) {
	recorder, mock, _ := newRecorder(t)
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	recorder.now = func() time.Time { return start.Add(time.Hour) }

	expectWindow(mock, testID, start, start.Add(2*time.Hour))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO app_user_answers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_user_question_answers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO app_user_question_answers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := recorder.Submit(context.Background(), studentID, twoAnswers())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var answerDetailColumns = []string{
	"id", "question", "discussion", "id", "label", "image_url", "is_correct", "is_selected",
}

func TestAnswerStore_GetGroupsOptionsByQuestion(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAnswerStore(db, NewSchedule(db))
	answerID := "3c2e1d0f-4b5a-4978-8c6d-1e2f3a4b5ce1"
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE a.id = $1")).
		WithArgs(answerID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "test_id", "test_name", "created_at"}).
			AddRow(answerID, studentID, testID, "Algebra", now))
	expectOpenWindow(mock, testID)
	mock.ExpectQuery("AS is_selected").
		WithArgs(answerID).
		WillReturnRows(sqlmock.NewRows(answerDetailColumns).
			AddRow(questionA, "2 + 2 = ?", nil, option1, "4", nil, true, true).
			AddRow(questionA, "2 + 2 = ?", nil, option2, "5", nil, false, false).
			AddRow(questionB, "3 + 3 = ?", nil, option3, "6", nil, true, false))

	detail, err := store.Get(context.Background(), answerID)
	require.NoError(t, err)
	assert.Equal(t, "Algebra", detail.TestName)
	require.Len(t, detail.Questions, 2)
	require.Len(t, detail.Questions[0].Options, 2)
	assert.True(t, detail.Questions[0].Options[0].IsSelected)
	assert.True(t, detail.Questions[0].Options[0].IsCorrect)
	assert.False(t, detail.Questions[0].Options[1].IsSelected)
	require.Len(t, detail.Questions[1].Options, 1)
	assert.False(t, detail.Questions[1].Options[0].IsSelected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnswerStore_ListScopedToUser(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAnswerStore(db, NewSchedule(db))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM app_user_answers a WHERE a.test_id = $1 AND a.user_id = $2")).
		WithArgs(testID, studentID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY a.created_at DESC LIMIT $3 OFFSET $4")).
		WithArgs(testID, studentID, 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "test_id", "test_name", "created_at"}))

	answers, total, err := store.List(context.Background(),
		pagination.Params{Page: 1, PerPage: 10, Order: "desc"},
		AnswerFilter{TestID: testID, UserID: studentID})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, answers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnswerStore_DeleteMissing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM app_user_answers").WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewAnswerStore(db, NewSchedule(db)).Delete(context.Background(), testID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "Test answer not found", apperr.Message(err))
}
