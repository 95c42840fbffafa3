package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/pagination"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// DataResponse wraps a single resource
type DataResponse struct {
	Data interface{} `json:"data"`
}

// ListResponse wraps a page of resources
type ListResponse struct {
	Data interface{}     `json:"data"`
	Meta pagination.Meta `json:"meta"`
}

// MessageResponse is returned by mutations that have no body
type MessageResponse struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteAppError renders err with the status of its apperr kind
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	WriteErrorMessage(w, apperr.HTTPStatus(kind), apperr.Message(err))
}

// WriteData writes a single resource with the given status
func WriteData(w http.ResponseWriter, status int, data interface{}) error {
	return WriteJSON(w, status, DataResponse{Data: data})
}

// WriteList writes a page of resources (200 OK)
func WriteList(w http.ResponseWriter, data interface{}, meta pagination.Meta) error {
	return WriteJSON(w, http.StatusOK, ListResponse{Data: data, Meta: meta})
}

// WriteMessage writes a message-only response with the given status
func WriteMessage(w http.ResponseWriter, status int, message string) error {
	return WriteJSON(w, status, MessageResponse{Message: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}
