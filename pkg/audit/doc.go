// Package audit records security-relevant events: logins, password changes,
// role and permission mutations, user administration and answer submissions.
//
// # Event Types
//
// Authentication: login, login_failed, logout, register, verify_email, password_reset
// Authorization: access_denied, role_change
// Data: permission/role/user/session/test mutations, answer_submit, file_upload
//
// # Usage Example
//
//	logger := audit.NewLogrusLogger(baseLogger.Logrus())
//	ctx = audit.WithLogger(ctx, logger)
//
//	audit.LogSuccess(ctx, audit.EventTypeAuthLogin, "user logged in", map[string]interface{}{
//		"email": email,
//	})
//
// Handlers never fail a request because an audit write failed; errors are
// returned so callers may log them.
package audit
