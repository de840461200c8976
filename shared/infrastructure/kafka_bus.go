package infrastructure

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/retry"
)

var _ events.Bus = (*KafkaBus)(nil)

// KafkaBus implements events.Bus on Kafka. Each routed channel maps to one
// topic; one writer per published channel and one group reader per
// subscribed channel. Delivery is at-least-once: offsets are only committed
// after every handler ran without error, so failed handling redelivers.
type KafkaBus struct {
	brokers []string
	groupID string

	mux      sync.RWMutex
	handlers map[string][]events.Handler
	channels map[string]struct{}
	writers  map[string]*kafka.Writer
	readers  []*kafka.Reader

	connected    atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	connectRetry *retry.Policy
	logger       *zap.Logger
}

// NewKafkaBus creates a Kafka-backed bus. Subscriptions must be registered
// before Connect; publishing connects lazily.
func NewKafkaBus(brokers []string, groupID string, connectRetry *retry.Policy, logger *zap.Logger) *KafkaBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if connectRetry == nil {
		connectRetry = retry.Default(logger)
	}
	return &KafkaBus{
		brokers:      brokers,
		groupID:      groupID,
		handlers:     make(map[string][]events.Handler),
		channels:     make(map[string]struct{}),
		writers:      make(map[string]*kafka.Writer),
		connectRetry: connectRetry,
		logger:       logger,
	}
}

// Subscribe registers a handler for future messages of eventType. The
// subscription also marks the owning channel for consumption on Connect.
func (b *KafkaBus) Subscribe(eventType string, handler events.Handler) error {
	if eventType == "" {
		return events.ErrInvalidEventType
	}
	if b.connected.Load() {
		return errors.New("subscriptions must be registered before the bus connects")
	}

	b.mux.Lock()
	defer b.mux.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.channels[events.ChannelFor(eventType)] = struct{}{}

	b.logger.Debug("subscribed",
		zap.String("event_type", eventType),
		zap.String("channel", events.ChannelFor(eventType)),
		zap.String("handler_id", handler.HandlerID()))
	return nil
}

// Connect starts one consumer loop per subscribed channel. Idempotent.
func (b *KafkaBus) Connect(ctx context.Context) error {
	if !b.connected.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.mux.Lock()
	defer b.mux.Unlock()
	for channel := range b.channels {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: b.brokers,
			GroupID: b.groupID,
			Topic:   channel,
		})
		b.readers = append(b.readers, reader)

		b.wg.Add(1)
		go b.consume(runCtx, channel, reader)
	}

	b.logger.Info("kafka bus connected",
		zap.Strings("brokers", b.brokers),
		zap.String("group_id", b.groupID),
		zap.Int("channels", len(b.channels)))
	return nil
}

// Disconnect stops consumers and closes writers. Idempotent.
func (b *KafkaBus) Disconnect(_ context.Context) error {
	if !b.connected.CompareAndSwap(true, false) {
		return nil
	}

	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	b.mux.Lock()
	defer b.mux.Unlock()

	var errs []error
	for _, reader := range b.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.readers = nil

	for channel, writer := range b.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.writers, channel)
	}

	if len(errs) > 0 {
		return errors.Errorf("failed to close kafka bus cleanly: %v", errs)
	}
	b.logger.Info("kafka bus disconnected")
	return nil
}

// Publish routes each message to the topic owned by its event type. The
// write is retried by the connection retry policy; exhaustion surfaces as a
// transport error to the caller.
func (b *KafkaBus) Publish(ctx context.Context, messages ...*events.Message) error {
	for _, message := range messages {
		if message == nil || message.EventType == "" {
			return events.ErrInvalidEventType
		}

		channel := events.ChannelFor(message.EventType)
		body, err := message.ToJSON()
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}

		writer := b.writer(channel)
		err = b.connectRetry.Execute(ctx, "kafka publish "+message.EventType, func(ctx context.Context) error {
			return writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(message.CorrelationID.String()),
				Value: body,
			})
		})
		if err != nil {
			return errors.Wrapf(err, "failed to publish %s to %s", message.EventType, channel)
		}

		b.logger.Debug("published",
			zap.String("event_type", message.EventType),
			zap.String("channel", channel),
			zap.String("correlation_id", message.CorrelationID.String()))
	}
	return nil
}

func (b *KafkaBus) writer(channel string) *kafka.Writer {
	b.mux.Lock()
	defer b.mux.Unlock()

	if writer, ok := b.writers[channel]; ok {
		return writer
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(b.brokers...),
		Topic:    channel,
		Balancer: &kafka.LeastBytes{},
	}
	b.writers[channel] = writer
	return writer
}

func (b *KafkaBus) consume(ctx context.Context, channel string, reader *kafka.Reader) {
	defer b.wg.Done()

	for {
		fetched, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("fetch failed",
				zap.String("channel", channel),
				zap.Error(err))
			continue
		}

		message, err := events.FromJSON(fetched.Value)
		if err != nil {
			// Malformed payloads are committed away rather than redelivered forever.
			b.logger.Warn("skipping malformed message",
				zap.String("channel", channel),
				zap.Error(err))
			_ = reader.CommitMessages(ctx, fetched)
			continue
		}

		if b.dispatch(ctx, message) {
			if err := reader.CommitMessages(ctx, fetched); err != nil {
				b.logger.Warn("commit failed",
					zap.String("channel", channel),
					zap.Error(err))
			}
		}
	}
}

// dispatch delivers the message to every registered handler and reports
// whether the offset may be committed.
func (b *KafkaBus) dispatch(ctx context.Context, message *events.Message) bool {
	b.mux.RLock()
	handlers := make([]events.Handler, len(b.handlers[message.EventType]))
	copy(handlers, b.handlers[message.EventType])
	b.mux.RUnlock()

	ok := true
	for _, handler := range handlers {
		if err := handler.Handle(ctx, message); err != nil {
			b.logger.Warn("handler failed",
				zap.String("event_type", message.EventType),
				zap.String("handler_id", handler.HandlerID()),
				zap.Error(err))
			ok = false
		}
	}
	return ok
}
