// Package application implements the payment service: it consumes
// payment.process commands, simulates a payment provider and reports the
// outcome as payment.completed or payment.failed.
package application

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/idempotency"
	"github.com/orderflow/fulfillment-system/shared/models"
)

// PaymentResult is the payload of a payment.completed event
type PaymentResult struct {
	models.PaymentData
	TransactionID string    `json:"transactionId"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// PaymentFailure is the payload of a payment.failed event
type PaymentFailure struct {
	models.PaymentData
	Error string `json:"error"`
}

// Decider decides whether a payment is approved. A nil return approves it;
// an error declines it with that reason.
type Decider func(payment models.PaymentData) error

// ApproveAll approves every payment
func ApproveAll() Decider {
	return func(models.PaymentData) error { return nil }
}

// RandomDecider declines roughly failureRate of payments. Seeded, so runs
// are reproducible.
func RandomDecider(failureRate float64, seed int64) Decider {
	rng := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	return func(models.PaymentData) error {
		mu.Lock()
		defer mu.Unlock()
		if rng.Float64() < failureRate {
			return errors.New("card declined")
		}
		return nil
	}
}

// PaymentProcessor consumes payment.process and emits the outcome
type PaymentProcessor struct {
	bus    events.Bus
	dedup  idempotency.Store
	decide Decider
	logger *zap.Logger
}

// NewPaymentProcessor creates the processor
func NewPaymentProcessor(bus events.Bus, dedup idempotency.Store, decide Decider, logger *zap.Logger) *PaymentProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedup == nil {
		dedup = idempotency.NewMemoryStore(0)
	}
	if decide == nil {
		decide = ApproveAll()
	}
	return &PaymentProcessor{
		bus:    bus,
		dedup:  dedup,
		decide: decide,
		logger: logger,
	}
}

// RegisterEventHandlers subscribes the processor to payment.process
func (p *PaymentProcessor) RegisterEventHandlers() error {
	handler := events.NewHandlerFunc("payment-service:"+events.PaymentProcessCommand, p.handleProcess)
	if err := p.bus.Subscribe(events.PaymentProcessCommand, handler); err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", events.PaymentProcessCommand)
	}
	return nil
}

func (p *PaymentProcessor) handleProcess(ctx context.Context, message *events.Message) error {
	var payment models.PaymentData
	if err := message.UnmarshalPayload(&payment); err != nil || payment.OrderID == "" {
		p.logger.Warn("dropping malformed payment.process payload", zap.Error(err))
		return nil
	}

	won, err := p.dedup.Claim(ctx, idempotency.Key(payment.OrderID, events.PaymentProcessCommand))
	if err != nil {
		p.logger.Warn("idempotency store unavailable, processing anyway",
			zap.String("order_id", payment.OrderID), zap.Error(err))
	} else if !won {
		// Charging twice is the one thing this service must never do.
		return nil
	}

	if err := validatePayment(payment); err != nil {
		return p.publishFailure(ctx, message, payment, err)
	}
	if err := p.decide(payment); err != nil {
		p.logger.Info("payment declined",
			zap.String("order_id", payment.OrderID),
			zap.Error(err))
		return p.publishFailure(ctx, message, payment, err)
	}

	result := PaymentResult{
		PaymentData:   payment,
		TransactionID: models.GenerateUUID().String(),
		ProcessedAt:   time.Now().UTC(),
	}
	p.logger.Info("payment completed",
		zap.String("order_id", payment.OrderID),
		zap.String("transaction_id", result.TransactionID),
		zap.Float64("total", payment.Total))

	completed := events.NewMessage(events.PaymentCompletedEvent, result).
		WithCorrelationID(message.CorrelationID)
	return p.bus.Publish(ctx, completed)
}

func (p *PaymentProcessor) publishFailure(ctx context.Context, message *events.Message, payment models.PaymentData, cause error) error {
	failed := events.NewMessage(events.PaymentFailedEvent, PaymentFailure{
		PaymentData: payment,
		Error:       cause.Error(),
	}).WithCorrelationID(message.CorrelationID)
	return p.bus.Publish(ctx, failed)
}

func validatePayment(payment models.PaymentData) error {
	if payment.UserID == "" {
		return errors.New("validation: user ID is required")
	}
	if len(payment.Cart) == 0 {
		return errors.New("validation: cart is empty")
	}
	if payment.Total <= 0 {
		return errors.New("validation: payment total must be positive")
	}
	return nil
}
