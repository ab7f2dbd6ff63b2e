package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusPublishOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()

	require.NoError(t, bus.Publish(ctx, Event{Topic: TopicCreated, ID: "id-1"}))
	require.NoError(t, bus.Publish(ctx, Event{Topic: TopicExpired, ID: "id-2"}))
	require.NoError(t, bus.Publish(ctx, Event{Topic: TopicCreated, ID: "id-3"}))

	all := bus.Published()
	require.Len(t, all, 3)
	assert.Equal(t, "id-1", all[0].ID)
	assert.Equal(t, "id-3", all[2].ID)

	created := bus.PublishedOn(TopicCreated)
	require.Len(t, created, 2)
	assert.Equal(t, "id-1", created[0].ID)
	assert.Equal(t, "id-3", created[1].ID)
	assert.Empty(t, bus.PublishedOn(TopicDeprecated))
}

func TestLocalBusSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()

	var seen []string
	bus.Subscribe(TopicConflicted, func(e Event) { seen = append(seen, e.ID) })
	bus.Subscribe(TopicConflicted, func(e Event) { seen = append(seen, e.ID+"-again") })

	require.NoError(t, bus.Publish(ctx, Event{Topic: TopicConflicted, ID: "id-1"}))
	require.NoError(t, bus.Publish(ctx, Event{Topic: TopicCreated, ID: "id-2"}))

	assert.Equal(t, []string{"id-1", "id-1-again"}, seen)
}

func TestLocalBusSubscribeDuringDelivery(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()

	var late []string
	bus.Subscribe(TopicCreated, func(e Event) {
		bus.Subscribe(TopicCreated, func(e Event) { late = append(late, e.ID) })
	})

	// Delivery iterates a snapshot of the subscriber list, so the callback
	// registered mid-delivery only sees the next event.
	require.NoError(t, bus.Publish(ctx, Event{Topic: TopicCreated, ID: "id-1"}))
	assert.Empty(t, late)
	require.NoError(t, bus.Publish(ctx, Event{Topic: TopicCreated, ID: "id-2"}))
	assert.Equal(t, []string{"id-2"}, late)
}
