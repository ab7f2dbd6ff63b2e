package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes change events on Redis pub/sub channels. Events are
// fire-and-forget: Redis pub/sub offers no delivery guarantee, which is
// acceptable because the stores, not the bus, are the source of truth.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

// Publish emits the JSON-encoded event on its topic channel.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", event.Topic, err)
	}
	if err := b.client.Publish(ctx, event.Topic, raw).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", event.Topic, err)
	}
	b.logger.Debug("published event", "topic", event.Topic, "id", event.ID)
	return nil
}

// Close releases the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
