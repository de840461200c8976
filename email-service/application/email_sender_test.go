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

func confirmationEmail() models.EmailData {
	return models.EmailData{
		OrderID: "order-1",
		UserID:  "user-1",
		Email:   "user-1@example.com",
		Type:    models.EmailTypeOrderConfirmation,
	}
}

func TestHandleSend_PublishesEmailSent(t *testing.T) {
	bus := newRecordingBus()
	sender := NewEmailSender(bus, nil, nil, nil)
	require.NoError(t, sender.RegisterEventHandlers())

	command := events.NewMessage(events.EmailSendCommand, confirmationEmail())
	require.NoError(t, bus.Publish(context.Background(), command))

	sent := bus.publishes(events.EmailSentEvent)
	require.Len(t, sent, 1)
	assert.Equal(t, command.CorrelationID, sent[0].CorrelationID)

	var email models.EmailData
	require.NoError(t, sent[0].UnmarshalPayload(&email))
	assert.Equal(t, "order-1", email.OrderID)
}

func TestHandleSend_DeliveryFailurePublishesEmailFailed(t *testing.T) {
	bus := newRecordingBus()
	failing := func(context.Context, models.EmailData) error {
		return errors.New("smtp connection refused")
	}
	sender := NewEmailSender(bus, nil, failing, nil)
	require.NoError(t, sender.RegisterEventHandlers())

	command := events.NewMessage(events.EmailSendCommand, confirmationEmail())
	require.NoError(t, bus.Publish(context.Background(), command))

	assert.Empty(t, bus.publishes(events.EmailSentEvent))

	failed := bus.publishes(events.EmailFailedEvent)
	require.Len(t, failed, 1)

	var failure EmailFailure
	require.NoError(t, failed[0].UnmarshalPayload(&failure))
	assert.Equal(t, "smtp connection refused", failure.Error)
}

func TestHandleSend_MissingRecipientFails(t *testing.T) {
	bus := newRecordingBus()
	sender := NewEmailSender(bus, nil, nil, nil)
	require.NoError(t, sender.RegisterEventHandlers())

	email := confirmationEmail()
	email.Email = ""
	require.NoError(t, bus.Publish(context.Background(),
		events.NewMessage(events.EmailSendCommand, email)))

	failed := bus.publishes(events.EmailFailedEvent)
	require.Len(t, failed, 1)

	var failure EmailFailure
	require.NoError(t, failed[0].UnmarshalPayload(&failure))
	assert.Contains(t, failure.Error, "recipient address")
}

func TestHandleSend_DuplicateCommandSendsOnce(t *testing.T) {
	bus := newRecordingBus()
	var deliveries int
	counting := func(context.Context, models.EmailData) error {
		deliveries++
		return nil
	}
	sender := NewEmailSender(bus, nil, counting, nil)
	require.NoError(t, sender.RegisterEventHandlers())

	command := events.NewMessage(events.EmailSendCommand, confirmationEmail())
	require.NoError(t, bus.Publish(context.Background(), command))
	require.NoError(t, bus.Publish(context.Background(), command))

	assert.Equal(t, 1, deliveries)
	assert.Len(t, bus.publishes(events.EmailSentEvent), 1)
}
