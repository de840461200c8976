package infrastructure

import (
	"context"
	"sync"
	"sync/atomic"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
)

var _ events.Bus = (*SNSSQSBus)(nil)

// SNSSQSBus implements events.Bus on AWS SNS (publish) and SQS (consume).
// Works against LocalStack when AWS_ENDPOINT_URL is set. All consumed
// channels are expected to be fanned into the single configured queue;
// the bus dispatches by eventType to the registered handlers.
type SNSSQSBus struct {
	topicArns map[string]string
	queueURL  string

	mux       sync.RWMutex
	handlers  map[string][]events.Handler
	connected atomic.Bool

	publisher  *SNSEventPublisher
	subscriber *SQSEventSubscriber
	logger     *zap.Logger
}

// NewSNSSQSBus creates the AWS-backed bus. topicArns maps routed channel
// names to SNS topic ARNs; queueURL is the service's SQS queue.
func NewSNSSQSBus(topicArns map[string]string, queueURL string, logger *zap.Logger) *SNSSQSBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSSQSBus{
		topicArns: topicArns,
		queueURL:  queueURL,
		handlers:  make(map[string][]events.Handler),
		logger:    logger,
	}
}

// Subscribe registers a handler for future messages of eventType
func (b *SNSSQSBus) Subscribe(eventType string, handler events.Handler) error {
	if eventType == "" {
		return events.ErrInvalidEventType
	}

	b.mux.Lock()
	defer b.mux.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Connect loads AWS config, builds the SNS/SQS clients and starts the
// queue consumer pipeline. Idempotent.
func (b *SNSSQSBus) Connect(ctx context.Context) error {
	if !b.connected.CompareAndSwap(false, true) {
		return nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		b.connected.Store(false)
		return errors.Wrap(err, "failed to load AWS config")
	}

	b.publisher = NewSNSEventPublisher(sns.NewFromConfig(cfg), b.topicArns)

	if b.queueURL != "" {
		dispatcher := events.NewHandlerFunc("snssqs-bus-dispatcher", b.dispatch)
		b.subscriber = NewSQSEventSubscriber(sqs.NewFromConfig(cfg), b.queueURL, dispatcher, b.logger)
		if err := b.subscriber.Start(ctx); err != nil {
			b.connected.Store(false)
			return errors.Wrap(err, "failed to start SQS subscriber")
		}
	}

	b.logger.Info("sns/sqs bus connected", zap.String("queue_url", b.queueURL))
	return nil
}

// Disconnect stops the consumer pipeline. Idempotent.
func (b *SNSSQSBus) Disconnect(ctx context.Context) error {
	if !b.connected.CompareAndSwap(true, false) {
		return nil
	}

	if b.subscriber != nil {
		if err := b.subscriber.Stop(ctx); err != nil {
			return errors.Wrap(err, "failed to stop SQS subscriber")
		}
	}
	b.logger.Info("sns/sqs bus disconnected")
	return nil
}

// Publish connects lazily and delegates to the SNS publisher
func (b *SNSSQSBus) Publish(ctx context.Context, messages ...*events.Message) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	return b.publisher.Publish(ctx, messages...)
}

// dispatch fans a consumed message out to handlers of its event type. A
// handler error marks the delivery failed so SQS redelivers it.
func (b *SNSSQSBus) dispatch(ctx context.Context, message *events.Message) error {
	b.mux.RLock()
	handlers := make([]events.Handler, len(b.handlers[message.EventType]))
	copy(handlers, b.handlers[message.EventType])
	b.mux.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler.Handle(ctx, message); err != nil {
			b.logger.Warn("handler failed",
				zap.String("event_type", message.EventType),
				zap.String("handler_id", handler.HandlerID()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
