package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/rbac"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *postgres.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, postgres.NewRedisClientFromClient(client)
}

func identityWithRole(email, roleID string) *CachedIdentity {
	return &CachedIdentity{
		ID:       "id-" + email,
		Email:    email,
		Fullname: "Someone",
		Role: &RoleSnapshot{
			ID:          roleID,
			Name:        "Student",
			Kind:        rbac.RoleKindStudent,
			Permissions: []PermissionRef{{Name: rbac.PermReadDetailTests}},
		},
	}
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "authenticated_users_data:admin@example.com", IdentityKey(" Admin@Example.com "))
	assert.Equal(t, "reset_password:admin@example.com", ResetKey("ADMIN@example.com"))
}

func TestSessionCache_PutGetDelete(t *testing.T) {
	mr, rc := newTestRedis(t)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	cache := NewSessionCache(rc, 0, metrics)
	ctx := context.Background()

	miss, err := cache.Get(ctx, "student@example.com")
	require.NoError(t, err)
	assert.Nil(t, miss)

	identity := identityWithRole("student@example.com", "r1")
	require.NoError(t, cache.Put(ctx, identity))
	assert.Equal(t, 24*time.Hour, mr.TTL(IdentityKey("student@example.com")))

	got, err := cache.Get(ctx, "STUDENT@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity, got)
	assert.Equal(t, rbac.RoleKindStudent, got.RoleKind())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IdentityCacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IdentityCacheLookupsTotal.WithLabelValues("miss")))

	require.NoError(t, cache.Delete(ctx, "student@example.com"))
	got, err = cache.Get(ctx, "student@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionCache_Expiry(t *testing.T) {
	mr, rc := newTestRedis(t)
	cache := NewSessionCache(rc, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, identityWithRole("a@example.com", "r1")))
	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionCache_PutReplacesSnapshot(t *testing.T) {
	_, rc := newTestRedis(t)
	cache := NewSessionCache(rc, 0, nil)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, identityWithRole("a@example.com", "r1")))
	require.NoError(t, cache.Put(ctx, identityWithRole("a@example.com", "r2")))

	got, err := cache.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.Role.ID)
}

func TestSessionCache_InvalidateRole(t *testing.T) {
	mr, rc := newTestRedis(t)
	cache := NewSessionCache(rc, 0, nil)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, identityWithRole("a@example.com", "r1")))
	require.NoError(t, cache.Put(ctx, identityWithRole("b@example.com", "r1")))
	require.NoError(t, cache.Put(ctx, identityWithRole("c@example.com", "r2")))
	require.NoError(t, cache.Put(ctx, &CachedIdentity{ID: "d", Email: "d@example.com"}))
	require.NoError(t, mr.Set("unrelated", "value"))

	n, err := cache.InvalidateRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists(IdentityKey("a@example.com")))
	assert.False(t, mr.Exists(IdentityKey("b@example.com")))
	assert.True(t, mr.Exists(IdentityKey("c@example.com")))
	assert.True(t, mr.Exists(IdentityKey("d@example.com")))
	assert.True(t, mr.Exists("unrelated"))

	n, err = cache.InvalidateRole(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResetTokens(t *testing.T) {
	mr, rc := newTestRedis(t)
	resets := NewResetTokens(rc, 0)
	ctx := context.Background()

	ok, err := resets.Matches(ctx, "a@example.com", "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	token, hash, err := GenerateResetToken()
	require.NoError(t, err)
	require.NoError(t, resets.Save(ctx, "A@example.com", hash))
	assert.Equal(t, DefaultResetTTL, mr.TTL(ResetKey("a@example.com")))

	ok, err = resets.Matches(ctx, "a@example.com", token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = resets.Matches(ctx, "a@example.com", hash)
	require.NoError(t, err)
	assert.False(t, ok, "the stored hash is not itself a valid token")

	require.NoError(t, resets.Delete(ctx, "a@example.com"))
	ok, err = resets.Matches(ctx, "a@example.com", token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionCache_RedisError(t *testing.T) {
	mr, rc := newTestRedis(t)
	cache := NewSessionCache(rc, 0, nil)
	mr.SetError("boom")

	_, err := cache.Get(context.Background(), "a@example.com")
	assert.Error(t, err)
	assert.Error(t, cache.Put(context.Background(), identityWithRole("a@example.com", "r1")))
}
