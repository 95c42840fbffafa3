// Package apperr defines the error taxonomy shared by stores, services and HTTP handlers.
//
// Stores return *Error values for conditions the caller must react to (missing rows,
// duplicate keys) and plain wrapped errors for everything else. Handlers render any error
// through KindOf/HTTPStatus, so an unclassified error always surfaces as Internal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and rendering
type Kind int

const (
	// KindInternal is a store, cache or codec failure
	KindInternal Kind = iota
	// KindBadRequest is malformed input
	KindBadRequest
	// KindUnauthorized is a missing/invalid credential or an expired session
	KindUnauthorized
	// KindForbidden is an authenticated caller lacking role or permission
	KindForbidden
	// KindNotFound is a referenced entity that does not exist
	KindNotFound
	// KindConflict is a duplicate unique field
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified error with a caller-facing message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// BadRequest creates a KindBadRequest error
func BadRequest(message string) *Error { return New(KindBadRequest, message) }

// Unauthorized creates a KindUnauthorized error
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// Forbidden creates a KindForbidden error
func Forbidden(message string) *Error { return New(KindForbidden, message) }

// NotFound creates a KindNotFound error
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict creates a KindConflict error
func Conflict(message string) *Error { return New(KindConflict, message) }

// Internal classifies err as an internal failure, keeping its message for operators
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is not classified
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing message for err
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Message != "" {
			return appErr.Message
		}
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
	}
	return err.Error()
}

// HTTPStatus maps a kind to its HTTP status code
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
