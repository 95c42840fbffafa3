// Package async runs fire-and-forget background work with panic recovery and a timeout.
//
// Request handlers use SafeGo for side effects the caller should not wait on, such as
// sending one-time codes and password reset links by mail.
package async
