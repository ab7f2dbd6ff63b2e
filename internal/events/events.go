// Package events defines the change-event bus port. Event emission for a
// record always happens after its backend writes, so subscribers never see
// "created" before the record is readable from at least one backend.
package events

import (
	"context"
	"time"
)

// Topics published by the engine.
const (
	TopicCreated            = "memory.created"
	TopicDeprecated         = "memory.deprecated"
	TopicConflicted         = "memory.conflicted"
	TopicExpired            = "memory.expired"
	TopicCompensationFailed = "memory.compensation_failed"
	TopicCacheInvalidated   = "cache.invalidated"
)

// Event is the payload published on every topic.
type Event struct {
	Topic     string            `json:"topic"`
	ID        string            `json:"id,omitempty"`
	ScopeHash string            `json:"scope_hash"`
	Timestamp time.Time         `json:"timestamp"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Bus is the pub-sub port.
type Bus interface {
	// Publish emits the event on its topic.
	Publish(ctx context.Context, event Event) error

	// Close releases the backend connection.
	Close() error
}
