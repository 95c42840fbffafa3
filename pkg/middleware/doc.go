// Package middleware provides the authorization gate and request rate limiting.
//
// # Authorization
//
// AuthMiddleware checks the Authorization header against the identity snapshot
// written to the session cache at login. It never reads the relational store:
// when the cached identity has expired or been invalidated the caller receives
// 401 and has to log in again.
//
//	gate := middleware.NewAuthMiddleware(tokens, sessions, metrics, logger)
//	router.Handle("/users/delete/{id}", gate.Require(rbac.PermDeleteUsers)(handler))
//
// Require with no permissions only requires a live session. Gate.Guard adapts
// Require to httputil.Guard so domain packages can register guarded routes
// without importing this package.
//
// # Rate limiting
//
// RateLimiter is an in-process token bucket; RedisRateLimiter shares a fixed
// window counter across replicas. RateLimit keys requests by scope and client IP;
// forwarded headers are only honoured from trusted proxies.
//
//	limiter := middleware.NewRedisRateLimiter(client, middleware.CredentialRateLimitConfig(10))
//	limit := middleware.RateLimit(limiter, "auth", proxies, logger)
package middleware
