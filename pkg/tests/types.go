package tests

import (
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/examcore/pkg/apperr"
)

// Test is a list entry; question_count comes from a count sub-select
type Test struct {
	ID            string    `json:"id"`
	TestName      string    `json:"test_name"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Window is the availability window of a scheduled test. A nil bound is open.
type Window struct {
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// Contains reports whether t falls inside the window, bounds inclusive
func (w Window) Contains(t time.Time) bool {
	if w.StartDate != nil && t.Before(*w.StartDate) {
		return false
	}
	if w.EndDate != nil && t.After(*w.EndDate) {
		return false
	}
	return true
}

// Option is an answer choice. IsCorrect is only set for elevated callers.
type Option struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	ImageURL  *string `json:"image_url"`
	IsCorrect *bool   `json:"is_correct,omitempty"`
}

// Question is a test question with its options in display order
type Question struct {
	ID                 string   `json:"id"`
	Question           string   `json:"question"`
	Discussion         *string  `json:"discussion"`
	QuestionImageURL   *string  `json:"question_image_url"`
	DiscussionImageURL *string  `json:"discussion_image_url"`
	Options            []Option `json:"options"`
}

// TestDetail is a test with its questions and schedule window
type TestDetail struct {
	ID            string     `json:"id"`
	TestName      string     `json:"test_name"`
	QuestionCount int        `json:"question_count"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	Questions     []Question `json:"questions"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OptionRequest is an option in a create or update payload
type OptionRequest struct {
	Label     string  `json:"label" validate:"required"`
	IsCorrect bool    `json:"is_correct"`
	ImageURL  *string `json:"image_url" validate:"omitempty,url"`
}

// QuestionRequest is a question in a create or update payload
type QuestionRequest struct {
	Question           string          `json:"question" validate:"required"`
	Discussion         *string         `json:"discussion"`
	QuestionImageURL   *string         `json:"question_image_url" validate:"omitempty,url"`
	DiscussionImageURL *string         `json:"discussion_image_url" validate:"omitempty,url"`
	Options            []OptionRequest `json:"options" validate:"required,min=1,dive"`
}

// CreateTestRequest creates a test with its questions, optionally scheduling it in a session
type CreateTestRequest struct {
	TestName  string            `json:"test_name" validate:"required,max=255"`
	SessionID *string           `json:"session_id" validate:"omitempty,uuid"`
	Questions []QuestionRequest `json:"questions" validate:"omitempty,dive"`
}

// UpdateTestRequest renames a test and, when questions is present, replaces all of them
type UpdateTestRequest struct {
	TestName  *string            `json:"test_name" validate:"omitempty,max=255"`
	Questions *[]QuestionRequest `json:"questions" validate:"omitempty,dive"`
}

// validateQuestions requires exactly one correct option per question
func validateQuestions(questions []QuestionRequest) error {
	for i, q := range questions {
		if len(q.Options) == 0 {
			return apperr.BadRequest(fmt.Sprintf("question %d must have at least one option", i+1))
		}
		correct := 0
		for _, o := range q.Options {
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return apperr.BadRequest(fmt.Sprintf("question %d must have exactly one correct option", i+1))
		}
	}
	return nil
}

// Answer is a recorded submission for one test
type Answer struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TestID    string    `json:"test_id"`
	TestName  string    `json:"test_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnsweredOption is an option shown with the key and the caller's choice
type AnsweredOption struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	ImageURL   *string `json:"image_url"`
	IsCorrect  bool    `json:"is_correct"`
	IsSelected bool    `json:"is_selected"`
}

// AnsweredQuestion is a question of a submission
type AnsweredQuestion struct {
	ID         string           `json:"id"`
	Question   string           `json:"question"`
	Discussion *string          `json:"discussion"`
	Options    []AnsweredOption `json:"options"`
}

// AnswerDetail is a submission with every answered question
type AnswerDetail struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	TestID    string             `json:"test_id"`
	TestName  string             `json:"test_name"`
	StartDate *time.Time         `json:"start_date"`
	EndDate   *time.Time         `json:"end_date"`
	Questions []AnsweredQuestion `json:"questions"`
	CreatedAt time.Time          `json:"created_at"`
}

// QuestionAnswer is one (question, chosen option) pair
type QuestionAnswer struct {
	QuestionID string `json:"question_id" validate:"required,uuid"`
	OptionID   string `json:"option_id" validate:"required,uuid"`
}

// SubmitAnswerRequest is the body of an answer submission
type SubmitAnswerRequest struct {
	TestID    string           `json:"test_id" validate:"required,uuid"`
	Questions []QuestionAnswer `json:"questions" validate:"required,min=1,dive"`
}

// normalized lowercases ids and rejects a question answered twice
func (r SubmitAnswerRequest) normalized() (SubmitAnswerRequest, error) {
	out := SubmitAnswerRequest{
		TestID:    strings.ToLower(r.TestID),
		Questions: make([]QuestionAnswer, 0, len(r.Questions)),
	}
	seen := make(map[string]bool, len(r.Questions))
	for _, qa := range r.Questions {
		questionID := strings.ToLower(qa.QuestionID)
		if seen[questionID] {
			return SubmitAnswerRequest{}, apperr.BadRequest("Each question can only be answered once")
		}
		seen[questionID] = true
		out.Questions = append(out.Questions, QuestionAnswer{
			QuestionID: questionID,
			OptionID:   strings.ToLower(qa.OptionID),
		})
	}
	return out, nil
}
