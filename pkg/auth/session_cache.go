package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

const (
	// IdentityKeyPrefix namespaces cached identities
	IdentityKeyPrefix = "authenticated_users_data:"
	// ResetKeyPrefix namespaces password reset tokens
	ResetKeyPrefix = "reset_password:"

	// DefaultIdentityTTL bounds how long a login snapshot is honoured
	DefaultIdentityTTL = 24 * time.Hour
	// DefaultResetTTL is how long a password reset link stays valid
	DefaultResetTTL = 24 * time.Hour
)

// IdentityKey returns the session cache key for email
func IdentityKey(email string) string {
	return IdentityKeyPrefix + normalizeEmail(email)
}

// ResetKey returns the reset token key for email
func ResetKey(email string) string {
	return ResetKeyPrefix + normalizeEmail(email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SessionCache stores CachedIdentity snapshots keyed by email
type SessionCache struct {
	redis   *postgres.RedisClient
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewSessionCache creates a session cache. A non-positive ttl uses DefaultIdentityTTL.
func NewSessionCache(client *postgres.RedisClient, ttl time.Duration, metrics *observability.Metrics) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultIdentityTTL
	}
	return &SessionCache{redis: client, ttl: ttl, metrics: metrics}
}

// Put writes identity, replacing any previous snapshot and restarting its TTL
func (c *SessionCache) Put(ctx context.Context, identity *CachedIdentity) error {
	if err := c.redis.SetJSON(ctx, IdentityKey(identity.Email), identity, c.ttl); err != nil {
		return fmt.Errorf("failed to cache identity: %w", err)
	}
	return nil
}

// Get returns the cached identity for email, or nil when there is none
func (c *SessionCache) Get(ctx context.Context, email string) (*CachedIdentity, error) {
	var identity CachedIdentity
	found, err := c.redis.GetJSON(ctx, IdentityKey(email), &identity)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached identity: %w", err)
	}
	c.metrics.RecordIdentityLookup(found)
	if !found {
		return nil, nil
	}
	return &identity, nil
}

// Delete drops the cached identity for email
func (c *SessionCache) Delete(ctx context.Context, email string) error {
	if err := c.redis.Delete(ctx, IdentityKey(email)); err != nil {
		return fmt.Errorf("failed to delete cached identity: %w", err)
	}
	return nil
}

// InvalidateRole drops every cached identity holding roleID and returns how many were removed
func (c *SessionCache) InvalidateRole(ctx context.Context, roleID string) (int, error) {
	var stale []string
	err := c.redis.ScanKeys(ctx, IdentityKeyPrefix+"*", func(key string) error {
		var identity CachedIdentity
		found, err := c.redis.GetJSON(ctx, key, &identity)
		if err != nil {
			return err
		}
		if found && identity.Role != nil && identity.Role.ID == roleID {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan cached identities: %w", err)
	}

	if err := c.redis.Delete(ctx, stale...); err != nil {
		return 0, fmt.Errorf("failed to delete cached identities: %w", err)
	}
	c.metrics.RecordIdentitiesInvalidated(len(stale))
	return len(stale), nil
}

// ResetTokens stores hashed password reset tokens keyed by email
type ResetTokens struct {
	redis *postgres.RedisClient
	ttl   time.Duration
}

// NewResetTokens creates a reset token store. A non-positive ttl uses DefaultResetTTL.
func NewResetTokens(client *postgres.RedisClient, ttl time.Duration) *ResetTokens {
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	return &ResetTokens{redis: client, ttl: ttl}
}

// Save stores the hash of a reset token for email, replacing any earlier one
func (r *ResetTokens) Save(ctx context.Context, email, tokenHash string) error {
	if err := r.redis.SetString(ctx, ResetKey(email), tokenHash, r.ttl); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

// Matches reports whether token is the live reset token for email
func (r *ResetTokens) Matches(ctx context.Context, email, token string) (bool, error) {
	stored, ok, err := r.redis.GetString(ctx, ResetKey(email))
	if err != nil {
		return false, fmt.Errorf("failed to read reset token: %w", err)
	}
	return ok && resetTokenMatches(stored, token), nil
}

// Delete removes the reset token for email
func (r *ResetTokens) Delete(ctx context.Context, email string) error {
	if err := r.redis.Delete(ctx, ResetKey(email)); err != nil {
		return fmt.Errorf("failed to delete reset token: %w", err)
	}
	return nil
}
