package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PermissionSource resolves the permission names granted to a role
type PermissionSource interface {
	NamesForRole(ctx context.Context, roleID string) ([]string, error)
}

// IdentityInvalidator drops cached identities that hold a role, so the next
// request from those users must log in again and picks up the new permission set.
type IdentityInvalidator interface {
	InvalidateRole(ctx context.Context, roleID string) (int, error)
}

// PermissionResolver caches role permission lookups for a short time. It only
// serves login and token refresh; per-request checks read the cached identity.
type PermissionResolver struct {
	source    PermissionSource
	cache     *expirable.LRU[string, []string]
	publisher Publisher
}

// NewPermissionResolver creates a resolver caching up to size roles for ttl.
// A ttl of zero disables caching.
func NewPermissionResolver(source PermissionSource, size int, ttl time.Duration) *PermissionResolver {
	r := &PermissionResolver{source: source}
	if ttl > 0 && size > 0 {
		r.cache = expirable.NewLRU[string, []string](size, nil, ttl)
	}
	return r
}

// NamesForRole returns the role's permission names
func (r *PermissionResolver) NamesForRole(ctx context.Context, roleID string) ([]string, error) {
	if r.cache != nil {
		if names, ok := r.cache.Get(roleID); ok {
			return names, nil
		}
	}

	names, err := r.source.NamesForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Add(roleID, names)
	}
	return names, nil
}

// Invalidate forgets the cached permissions of a role
func (r *PermissionResolver) Invalidate(roleID string) {
	if r.cache != nil {
		r.cache.Remove(roleID)
	}
}

// Broadcast makes Revoke announce invalidations through p
func (r *PermissionResolver) Broadcast(p Publisher) {
	r.publisher = p
}

// Revoke forgets the role locally and tells the other replicas to do the same
func (r *PermissionResolver) Revoke(ctx context.Context, roleID string) error {
	r.Invalidate(roleID)
	if r.publisher == nil {
		return nil
	}
	return r.publisher.Publish(ctx, roleID)
}

// Purge forgets every cached role
func (r *PermissionResolver) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

// Covers reports whether granted contains every permission in required
func Covers(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, name := range granted {
		set[name] = struct{}{}
	}
	for _, name := range required {
		if _, ok := set[name]; !ok {
			return false
		}
	}
	return true
}
