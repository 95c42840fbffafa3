package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// CredentialRateLimitConfig bounds login, registration and password reset attempts per client
func CredentialRateLimitConfig(perMinute int) *RateLimitConfig {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RateLimitConfig{
		RequestsPerWindow: perMinute,
		WindowDuration:    time.Minute,
		BurstSize:         perMinute / 2,
	}
}

func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Limiter decides whether another request for key is admitted
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
	Window() time.Duration
}

// RateLimiter is an in-process token bucket limiter
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
}

// NewRateLimiter creates a new in-memory rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = CredentialRateLimitConfig(0)
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes a token for key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.config.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastUpdate)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.config.capacity() {
			b.tokens = rl.config.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b.tokens
	}
	return rl.config.capacity()
}

// Limit returns the bucket capacity
func (rl *RateLimiter) Limit() int { return rl.config.capacity() }

// Window returns the refill window
func (rl *RateLimiter) Window() time.Duration { return rl.config.WindowDuration }

// Cleanup removes buckets idle for more than two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
	}
}

// RedisRateLimiter is a fixed-window limiter shared by every instance through Redis
type RedisRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRedisRateLimiter creates a Redis-backed rate limiter
func NewRedisRateLimiter(client *redis.Client, config *RateLimitConfig) *RedisRateLimiter {
	if config == nil {
		config = CredentialRateLimitConfig(0)
	}
	return &RedisRateLimiter{
		redis:  client,
		config: config,
		prefix: "ratelimit",
	}
}

// Allow increments the window counter for key. Redis errors are returned
// alongside an allow decision so callers can fail open.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(rl.config.capacity()), nil
}

// Limit returns the per-window allowance
func (rl *RedisRateLimiter) Limit() int { return rl.config.capacity() }

// Window returns the counter window
func (rl *RedisRateLimiter) Window() time.Duration { return rl.config.WindowDuration }

// RateLimit limits requests per client IP under scope. X-Forwarded-For only
// counts when the peer is in proxies. Limiter failures let the request through.
func RateLimit(limiter Limiter, scope string, proxies httputil.TrustedProxies, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + proxies.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil && logger != nil {
				logger.WithError(err).WithField("scope", scope).Warn("rate limiter unavailable, allowing request")
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", limiter.Window().Seconds()))
				httputil.WriteTooManyRequests(w, "Too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
