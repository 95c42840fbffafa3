package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/examcore/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes any buffered events
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// noOpLogger is used when no logger is configured
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}

// NewEvent creates an event populated from the request context
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.IPAddress = clientIP(r)
		event.UserAgent = r.UserAgent()
	}

	return event
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// LogSuccess logs a successful event with a message
func LogSuccess(ctx context.Context, eventType EventType, message string, metadata map[string]interface{}) error {
	event := NewEvent(ctx, nil, eventType, EventStatusSuccess)
	event.Message = message
	if metadata != nil {
		event.Metadata = metadata
	}
	return FromContext(ctx).Log(ctx, event)
}

// LogFailure logs a failed event with an error
func LogFailure(ctx context.Context, eventType EventType, message string, err error) error {
	event := NewEvent(ctx, nil, eventType, EventStatusFailure)
	event.Message = message
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return FromContext(ctx).Log(ctx, event)
}

// LogDenied logs an access denied event
func LogDenied(ctx context.Context, resourceType ResourceType, resourceID string, reason string) error {
	event := NewEvent(ctx, nil, EventTypeAuthzAccessDenied, EventStatusDenied)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = fmt.Sprintf("Access denied: %s", reason)
	return FromContext(ctx).Log(ctx, event)
}

// LogMutation logs a successful change to a resource
func LogMutation(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, message string) error {
	event := NewEvent(ctx, nil, eventType, EventStatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return FromContext(ctx).Log(ctx, event)
}
