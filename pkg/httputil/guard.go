package httputil

import "net/http"

// Guard wraps a handler so it only runs for callers holding every listed permission.
// An empty permission list still requires an authenticated caller.
type Guard func(permissions ...string) func(http.Handler) http.Handler

// AllowAll is a Guard that admits every request
func AllowAll(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// Protect applies guard with permissions to a handler function
func Protect(guard Guard, handler http.HandlerFunc, permissions ...string) http.Handler {
	return guard(permissions...)(handler)
}
