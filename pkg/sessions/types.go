package sessions

import (
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/examcore/pkg/apperr"
)

// Accepted schedule date layouts, tried in order
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

// Session is an administrative grouping of tests
type Session struct {
	ID          string        `json:"id"`
	SessionName string        `json:"session_name"`
	Description string        `json:"description"`
	Category    *string       `json:"category"`
	StudentType *string       `json:"student_type"`
	IsActive    bool          `json:"is_active"`
	TestCount   *int          `json:"test_count,omitempty"`
	Tests       []SessionTest `json:"tests,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SessionTest is a scheduled test within a session
type SessionTest struct {
	TestID        string     `json:"id"`
	TestName      string     `json:"test_name"`
	QuestionCount int        `json:"question_count"`
	StartDate     *time.Time `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	Weight        int        `json:"weight"`
	Multiplier    int        `json:"multiplier"`
}

// Link is a validated session-test schedule entry
type Link struct {
	TestID     string
	StartDate  *time.Time
	EndDate    *time.Time
	Weight     int
	Multiplier int
}

// TestLinkRequest schedules a test within a session
type TestLinkRequest struct {
	TestID     string  `json:"test_id" validate:"required,uuid"`
	StartDate  *string `json:"start_date"`
	EndDate    *string `json:"end_date"`
	Weight     *int    `json:"weight" validate:"omitempty,min=0"`
	Multiplier *int    `json:"multiplier" validate:"omitempty,min=0"`
}

// CreateSessionRequest is the body of a session create
type CreateSessionRequest struct {
	SessionName string            `json:"session_name" validate:"required,max=255"`
	Description string            `json:"description"`
	Category    *string           `json:"category" validate:"omitempty,max=64"`
	StudentType *string           `json:"student_type" validate:"omitempty,max=64"`
	IsActive    *bool             `json:"is_active"`
	Tests       []TestLinkRequest `json:"tests" validate:"omitempty,dive"`
}

// UpdateSessionRequest changes the present fields. Empty strings keep the stored
// value; a present tests list replaces the whole schedule.
type UpdateSessionRequest struct {
	SessionName *string            `json:"session_name" validate:"omitempty,max=255"`
	Description *string            `json:"description"`
	Category    *string            `json:"category" validate:"omitempty,max=64"`
	StudentType *string            `json:"student_type" validate:"omitempty,max=64"`
	IsActive    *bool              `json:"is_active"`
	Tests       *[]TestLinkRequest `json:"tests" validate:"omitempty,dive"`
}

// Changes is a partial session update
type Changes struct {
	SessionName *string
	Description *string
	Category    *string
	StudentType *string
	IsActive    *bool
}

func (r UpdateSessionRequest) changes() Changes {
	return Changes{
		SessionName: nonEmpty(r.SessionName),
		Description: nonEmpty(r.Description),
		Category:    nonEmpty(r.Category),
		StudentType: nonEmpty(r.StudentType),
		IsActive:    r.IsActive,
	}
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// ParseScheduleDate parses an RFC3339 or minute-precision (2006-01-02T15:04, UTC) date
func ParseScheduleDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}

func parseOptionalDate(value *string, field string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := ParseScheduleDate(*value)
	if err != nil {
		return nil, apperr.BadRequest(fmt.Sprintf("%s must be RFC3339 or YYYY-MM-DDTHH:MM", field))
	}
	return &t, nil
}

// buildLinks validates schedule entries: dates parse, windows are ordered,
// and no test appears twice. Weight and multiplier default to 1.
func buildLinks(requests []TestLinkRequest) ([]Link, error) {
	links := make([]Link, 0, len(requests))
	seen := make(map[string]bool, len(requests))

	for _, req := range requests {
		testID := strings.ToLower(req.TestID)
		if seen[testID] {
			return nil, apperr.BadRequest("A test can only be scheduled once per session")
		}
		seen[testID] = true

		start, err := parseOptionalDate(req.StartDate, "start_date")
		if err != nil {
			return nil, err
		}
		end, err := parseOptionalDate(req.EndDate, "end_date")
		if err != nil {
			return nil, err
		}
		if start != nil && end != nil && start.After(*end) {
			return nil, apperr.BadRequest("start_date must not be after end_date")
		}

		link := Link{TestID: testID, StartDate: start, EndDate: end, Weight: 1, Multiplier: 1}
		if req.Weight != nil {
			link.Weight = *req.Weight
		}
		if req.Multiplier != nil {
			link.Multiplier = *req.Multiplier
		}
		links = append(links, link)
	}
	return links, nil
}
