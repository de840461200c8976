package application

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment-system/shared/analytics"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
)

type recordingBus struct {
	*events.MemoryBus

	mu        sync.Mutex
	published map[string][]*events.Message
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		MemoryBus: events.NewMemoryBus(nil),
		published: make(map[string][]*events.Message),
	}
}

func (b *recordingBus) Publish(ctx context.Context, messages ...*events.Message) error {
	b.mu.Lock()
	for _, message := range messages {
		b.published[message.EventType] = append(b.published[message.EventType], message)
	}
	b.mu.Unlock()
	return b.MemoryBus.Publish(ctx, messages...)
}

func (b *recordingBus) publishes(eventType string) []*events.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*events.Message(nil), b.published[eventType]...)
}

func milestone(eventType string) analytics.Data {
	return analytics.Data{
		EventType: eventType,
		OrderID:   "order-1",
		UserID:    "user-1",
		Data: analytics.Snapshot{
			Total: 99.99,
			Cart:  models.Cart{{ID: 1, Name: "Widget", Price: 99.99}},
		},
	}
}

func TestHandleCollect_StoresMilestone(t *testing.T) {
	bus := newRecordingBus()
	store := NewMemoryStore()
	collector := NewCollector(bus, store, nil)
	require.NoError(t, collector.RegisterEventHandlers())

	command := events.NewMessage(events.AnalyticsCollectCommand, milestone("order.create.requested"))
	require.NoError(t, bus.Publish(context.Background(), command))

	assert.Equal(t, map[string]int{"order.create.requested": 1}, store.CountByType())

	collected := bus.publishes(events.AnalyticsCollectedEvent)
	require.Len(t, collected, 1)
	assert.Equal(t, command.CorrelationID, collected[0].CorrelationID)
}

func TestHandleCollect_MalformedPayloadDropped(t *testing.T) {
	bus := newRecordingBus()
	store := NewMemoryStore()
	collector := NewCollector(bus, store, nil)
	require.NoError(t, collector.RegisterEventHandlers())

	command := events.NewMessage(events.AnalyticsCollectCommand, map[string]string{"unexpected": "shape"})
	require.NoError(t, bus.Publish(context.Background(), command))

	assert.Empty(t, store.CountByType())
	assert.Empty(t, bus.publishes(events.AnalyticsCollectedEvent))
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, string, string, *events.Message) error {
	return errors.New("database unavailable")
}

func TestHandleCollect_StoreErrorPropagatesForRedelivery(t *testing.T) {
	bus := events.NewMemoryBus(nil)
	collector := NewCollector(bus, failingStore{}, nil)

	message := events.NewMessage(events.AnalyticsCollectCommand, milestone("payment.completed"))
	err := collector.handleCollect(context.Background(), message)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store analytics milestone")
}
