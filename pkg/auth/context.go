package auth

import (
	"context"

	"github.com/platinummonkey/examcore/pkg/contextkeys"
)

// WithIdentity stores the authenticated identity in ctx, along with its user id for logging
func WithIdentity(ctx context.Context, identity *CachedIdentity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, identity)
	if identity != nil {
		ctx = contextkeys.WithUserID(ctx, identity.ID)
	}
	return ctx
}

// IdentityFromContext returns the identity placed by the authorization gate, or nil
func IdentityFromContext(ctx context.Context) *CachedIdentity {
	identity, _ := ctx.Value(contextkeys.IdentityKey).(*CachedIdentity)
	return identity
}
