package events

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishDeliversToAllHandlers(t *testing.T) {
	bus := NewMemoryBus(nil)
	ctx := context.Background()

	var mu sync.Mutex
	var delivered []string

	record := func(id string) Handler {
		return NewHandlerFunc(id, func(_ context.Context, m *Message) error {
			mu.Lock()
			defer mu.Unlock()
			delivered = append(delivered, id+":"+m.EventType)
			return nil
		})
	}

	require.NoError(t, bus.Subscribe(OrderCreatedEvent, record("a")))
	require.NoError(t, bus.Subscribe(OrderCreatedEvent, record("b")))
	require.NoError(t, bus.Subscribe(PaymentFailedEvent, record("c")))

	require.NoError(t, bus.Publish(ctx, NewMessage(OrderCreatedEvent, map[string]string{"orderId": "o1"})))

	assert.ElementsMatch(t, []string{"a:order.created", "b:order.created"}, delivered)
}

func TestMemoryBus_HandlerErrorIsIsolated(t *testing.T) {
	bus := NewMemoryBus(nil)
	ctx := context.Background()

	called := 0
	require.NoError(t, bus.Subscribe(EmailSentEvent, NewHandlerFunc("boom", func(context.Context, *Message) error {
		return errors.New("handler blew up")
	})))
	require.NoError(t, bus.Subscribe(EmailSentEvent, NewHandlerFunc("ok", func(context.Context, *Message) error {
		called++
		return nil
	})))

	// The publisher never observes consumer failures.
	require.NoError(t, bus.Publish(ctx, NewMessage(EmailSentEvent, nil)))
	assert.Equal(t, 1, called)
}

func TestMemoryBus_ConnectDisconnectIdempotent(t *testing.T) {
	bus := NewMemoryBus(nil)
	ctx := context.Background()

	require.NoError(t, bus.Connect(ctx))
	require.NoError(t, bus.Connect(ctx))
	require.NoError(t, bus.Disconnect(ctx))
	require.NoError(t, bus.Disconnect(ctx))
}

func TestMemoryBus_RejectsEmptyEventType(t *testing.T) {
	bus := NewMemoryBus(nil)

	assert.ErrorIs(t, bus.Subscribe("", NewHandlerFunc("x", func(context.Context, *Message) error { return nil })), ErrInvalidEventType)
	assert.ErrorIs(t, bus.Publish(context.Background(), &Message{}), ErrInvalidEventType)
}

func TestMessage_PayloadRoundTrip(t *testing.T) {
	type payload struct {
		OrderID string  `json:"orderId"`
		Total   float64 `json:"total"`
	}

	original := NewMessage(OrderCreateCommand, payload{OrderID: "o1", Total: 99.99})

	wire, err := original.ToJSON()
	require.NoError(t, err)

	decoded, err := FromJSON(wire)
	require.NoError(t, err)
	assert.Equal(t, original.EventType, decoded.EventType)
	assert.Equal(t, original.CorrelationID, decoded.CorrelationID)

	var got payload
	require.NoError(t, decoded.UnmarshalPayload(&got))
	assert.Equal(t, "o1", got.OrderID)
	assert.Equal(t, 99.99, got.Total)
}
