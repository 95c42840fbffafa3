package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

// RedisStore keeps codes in Redis and relies on key expiry for invalidation
type RedisStore struct {
	redis *postgres.RedisClient
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store. A non-positive ttl uses DefaultTTL.
func NewRedisStore(client *postgres.RedisClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: client, ttl: ttl}
}

// Backend names the store for metrics
func (s *RedisStore) Backend() string { return "redis" }

// Issue generates a code and replaces any previous one for identifier
func (s *RedisStore) Issue(ctx context.Context, identifier string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	if err := s.redis.SetString(ctx, Key(identifier), code, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store otp: %w", err)
	}
	if err := s.redis.Delete(ctx, AttemptsKey(identifier)); err != nil {
		return "", fmt.Errorf("failed to reset otp attempts: %w", err)
	}
	return code, nil
}

// Verify checks code against the stored one and deletes it on a match. Misses
// are counted across replicas and the code is discarded at MaxAttempts.
func (s *RedisStore) Verify(ctx context.Context, identifier, code string) (bool, error) {
	key := Key(identifier)
	attempts := AttemptsKey(identifier)
	stored, ok, err := s.redis.GetString(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read otp: %w", err)
	}
	if !ok {
		return false, nil
	}
	if !codesEqual(stored, code) {
		misses, err := s.redis.Incr(ctx, attempts, s.ttl)
		if err != nil {
			return false, fmt.Errorf("failed to count otp attempt: %w", err)
		}
		if misses >= MaxAttempts {
			if err := s.redis.Delete(ctx, key, attempts); err != nil {
				return false, fmt.Errorf("failed to discard otp: %w", err)
			}
		}
		return false, nil
	}
	if err := s.redis.Delete(ctx, key, attempts); err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	return true, nil
}
