package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"bad request", BadRequest("invalid email"), KindBadRequest},
		{"wrapped forbidden", fmt.Errorf("gate: %w", Forbidden("nope")), KindForbidden},
		{"not found", NotFound("user not found"), KindNotFound},
		{"unclassified", errors.New("boom"), KindInternal},
		{"internal", Internal(sql.ErrConnDone), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadRequest))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthorized))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindForbidden))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Email or password invalid", Message(Unauthorized("Email or password invalid")))
	assert.Equal(t, "sql: connection is already closed", Message(Internal(sql.ErrConnDone)))
	assert.Equal(t, "plain", Message(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	err := Wrap(KindConflict, "email already registered", sql.ErrNoRows)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, "email already registered: sql: no rows in result set", err.Error())
	assert.True(t, Is(err, KindConflict))
	assert.False(t, Is(nil, KindConflict))
}
