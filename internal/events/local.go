package events

import (
	"context"
	"slices"
	"sync"
)

// LocalBus is the in-process fallback bus for single-node deployments.
// Subscribers are invoked synchronously in Publish; tests use it to observe
// emission order.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[string][]func(Event)
	published   []Event
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[string][]func(Event))}
}

// Subscribe registers a callback for a topic.
func (b *LocalBus) Subscribe(topic string, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], fn)
}

// Publish delivers the event to all topic subscribers and records it.
func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	subs := slices.Clone(b.subscribers[event.Topic])
	b.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
	return nil
}

// Published returns a snapshot of every event published so far.
func (b *LocalBus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.published...)
}

// PublishedOn returns the events published on one topic.
func (b *LocalBus) PublishedOn(topic string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.published {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Close is a no-op for the local bus.
func (b *LocalBus) Close() error { return nil }
