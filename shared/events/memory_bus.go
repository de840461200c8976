package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var _ Bus = (*MemoryBus)(nil)

// MemoryBus is an in-process Bus used for local runs and tests. Delivery is
// synchronous and in registration order per event type; handler errors are
// logged and isolated from the publisher, matching the at-least-once
// contract where a publish succeeding says nothing about consumer outcomes.
type MemoryBus struct {
	mux       sync.RWMutex
	handlers  map[string][]Handler
	connected atomic.Bool
	logger    *zap.Logger
}

// NewMemoryBus creates a new in-process bus
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Connect marks the bus as connected. Idempotent.
func (b *MemoryBus) Connect(_ context.Context) error {
	if b.connected.CompareAndSwap(false, true) {
		b.logger.Debug("memory bus connected")
	}
	return nil
}

// Disconnect marks the bus as disconnected. Idempotent.
func (b *MemoryBus) Disconnect(_ context.Context) error {
	if b.connected.CompareAndSwap(true, false) {
		b.logger.Debug("memory bus disconnected")
	}
	return nil
}

// Subscribe registers a handler for every future message of eventType
func (b *MemoryBus) Subscribe(eventType string, handler Handler) error {
	if eventType == "" {
		return ErrInvalidEventType
	}

	b.mux.Lock()
	defer b.mux.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)

	b.logger.Debug("subscribed",
		zap.String("event_type", eventType),
		zap.String("handler_id", handler.HandlerID()),
		zap.String("channel", ChannelFor(eventType)))
	return nil
}

// Publish routes each message to its channel and delivers it to every
// handler registered for the event type. The bus connects lazily on first
// publish. Handler errors never propagate to the publisher.
func (b *MemoryBus) Publish(ctx context.Context, messages ...*Message) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}

	for _, message := range messages {
		if message == nil || message.EventType == "" {
			return ErrInvalidEventType
		}

		b.mux.RLock()
		handlers := make([]Handler, len(b.handlers[message.EventType]))
		copy(handlers, b.handlers[message.EventType])
		b.mux.RUnlock()

		b.logger.Debug("publishing",
			zap.String("event_type", message.EventType),
			zap.String("channel", ChannelFor(message.EventType)),
			zap.String("correlation_id", message.CorrelationID.String()))

		for _, handler := range handlers {
			if err := handler.Handle(ctx, message); err != nil {
				b.logger.Warn("handler failed",
					zap.String("event_type", message.EventType),
					zap.String("handler_id", handler.HandlerID()),
					zap.Error(err))
			}
		}
	}

	return nil
}
