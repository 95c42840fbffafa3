package rbac

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/examcore/pkg/observability"
)

// InvalidationChannel carries the ids of roles whose permissions changed
const InvalidationChannel = "rbac:role_invalidated"

// Publisher announces a role change to the other replicas
type Publisher interface {
	Publish(ctx context.Context, roleID string) error
}

// InvalidationBus fans role invalidations out over Redis pub/sub so every
// replica drops its PermissionResolver entry, not only the one that served the edit.
type InvalidationBus struct {
	client *redis.Client
}

// NewInvalidationBus creates a bus on client
func NewInvalidationBus(client *redis.Client) *InvalidationBus {
	return &InvalidationBus{client: client}
}

// Publish announces that roleID changed
func (b *InvalidationBus) Publish(ctx context.Context, roleID string) error {
	if err := b.client.Publish(ctx, InvalidationChannel, roleID).Err(); err != nil {
		return fmt.Errorf("failed to publish role invalidation: %w", err)
	}
	return nil
}

// Listen drops resolver entries as invalidations arrive. It blocks until ctx
// is cancelled or the subscription is closed.
func (b *InvalidationBus) Listen(ctx context.Context, resolver *PermissionResolver, logger *observability.Logger) error {
	sub := b.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to role invalidations: %w", err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			resolver.Invalidate(msg.Payload)
			if logger != nil {
				logger.WithField("role_id", msg.Payload).Debug("role permissions invalidated")
			}
		}
	}
}
