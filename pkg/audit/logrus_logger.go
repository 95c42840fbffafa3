package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log lines tagged audit=true
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates an audit logger on top of a logrus logger
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusLogger{logger: logger}
}

// Log writes the event. Denied and failed events are logged at warn level.
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"timestamp":  event.Timestamp,
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.Email != "" {
		fields["email"] = event.Email
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.IPAddress != "" {
		fields["ip_address"] = event.IPAddress
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close is a no-op; logrus writes synchronously
func (l *LogrusLogger) Close() error {
	return nil
}
