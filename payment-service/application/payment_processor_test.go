package application

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newProcessorFixture(t *testing.T, decide Decider) *recordingBus {
	t.Helper()
	bus := newRecordingBus()
	processor := NewPaymentProcessor(bus, nil, decide, nil)
	require.NoError(t, processor.RegisterEventHandlers())
	return bus
}

func validPayment() models.PaymentData {
	return models.PaymentData{
		OrderID: "order-1",
		UserID:  "user-1",
		Cart:    models.Cart{{ID: 1, Name: "Widget", Price: 49.99}},
		Total:   49.99,
	}
}

func TestHandleProcess_ApprovedPaymentCompletes(t *testing.T) {
	bus := newProcessorFixture(t, ApproveAll())

	command := events.NewMessage(events.PaymentProcessCommand, validPayment())
	require.NoError(t, bus.Publish(context.Background(), command))

	completed := bus.publishes(events.PaymentCompletedEvent)
	require.Len(t, completed, 1)
	assert.Equal(t, command.CorrelationID, completed[0].CorrelationID)

	var result PaymentResult
	require.NoError(t, completed[0].UnmarshalPayload(&result))
	assert.Equal(t, "order-1", result.OrderID)
	assert.NotEmpty(t, result.TransactionID)
	assert.False(t, result.ProcessedAt.IsZero())

	assert.Empty(t, bus.publishes(events.PaymentFailedEvent))
}

func TestHandleProcess_DeclinedPaymentFails(t *testing.T) {
	decline := func(models.PaymentData) error { return errors.New("card declined") }
	bus := newProcessorFixture(t, decline)

	command := events.NewMessage(events.PaymentProcessCommand, validPayment())
	require.NoError(t, bus.Publish(context.Background(), command))

	assert.Empty(t, bus.publishes(events.PaymentCompletedEvent))

	failed := bus.publishes(events.PaymentFailedEvent)
	require.Len(t, failed, 1)

	var failure PaymentFailure
	require.NoError(t, failed[0].UnmarshalPayload(&failure))
	assert.Equal(t, "card declined", failure.Error)
	assert.Equal(t, "order-1", failure.OrderID)
}

func TestHandleProcess_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		payment models.PaymentData
		wantErr string
	}{
		{
			name: "missing user",
			payment: models.PaymentData{
				OrderID: "order-1",
				Cart:    models.Cart{{ID: 1, Name: "Widget", Price: 10}},
				Total:   10,
			},
			wantErr: "user ID is required",
		},
		{
			name:    "empty cart",
			payment: models.PaymentData{OrderID: "order-2", UserID: "user-2", Total: 10},
			wantErr: "cart is empty",
		},
		{
			name: "non-positive total",
			payment: models.PaymentData{
				OrderID: "order-3",
				UserID:  "user-3",
				Cart:    models.Cart{{ID: 1, Name: "Widget", Price: 0}},
			},
			wantErr: "total must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newProcessorFixture(t, ApproveAll())

			command := events.NewMessage(events.PaymentProcessCommand, tt.payment)
			require.NoError(t, bus.Publish(context.Background(), command))

			assert.Empty(t, bus.publishes(events.PaymentCompletedEvent))

			failed := bus.publishes(events.PaymentFailedEvent)
			require.Len(t, failed, 1)

			var failure PaymentFailure
			require.NoError(t, failed[0].UnmarshalPayload(&failure))
			assert.Contains(t, failure.Error, tt.wantErr)
		})
	}
}

func TestHandleProcess_DuplicateCommandChargesOnce(t *testing.T) {
	bus := newProcessorFixture(t, ApproveAll())

	command := events.NewMessage(events.PaymentProcessCommand, validPayment())
	require.NoError(t, bus.Publish(context.Background(), command))
	require.NoError(t, bus.Publish(context.Background(), command))

	assert.Len(t, bus.publishes(events.PaymentCompletedEvent), 1)
}

func TestRandomDecider_Reproducible(t *testing.T) {
	outcomes := func(seed int64) []bool {
		decide := RandomDecider(0.5, seed)
		results := make([]bool, 20)
		for i := range results {
			results[i] = decide(models.PaymentData{}) == nil
		}
		return results
	}

	assert.Equal(t, outcomes(42), outcomes(42))
}
