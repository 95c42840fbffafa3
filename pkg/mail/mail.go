// Package mail delivers transactional messages (verification codes, password reset links).
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/examcore/pkg/observability"
)

// Message is a plain-text email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. Used when SMTP is not configured.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs msg
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	}).Info("mail delivery disabled, message logged")
	return nil
}

// VerificationCode builds the account verification message
func VerificationCode(to, fullname, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Verify your email",
		Body: fmt.Sprintf("Hello %s,\n\nYour verification code is %s. It expires in %d minutes.\n",
			displayName(fullname, to), code, int(ttl.Minutes())),
	}
}

// ResetPassword builds the password reset message linking to the frontend
func ResetPassword(to, fullname, frontendURL, token string) Message {
	q := url.Values{}
	q.Set("token", token)
	q.Set("email", to)
	link := strings.TrimRight(frontendURL, "/") + "/auth/reset-password?" + q.Encode()

	return Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Hello %s,\n\nOpen the link below to choose a new password. It is valid for 24 hours.\n\n%s\n\nIf you did not request a reset you can ignore this email.\n",
			displayName(fullname, to), link),
	}
}

func displayName(fullname, fallback string) string {
	if strings.TrimSpace(fullname) == "" {
		return fallback
	}
	return fullname
}
