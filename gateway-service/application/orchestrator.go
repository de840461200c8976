// Package application coordinates the order fulfillment saga: forward
// commands, compensation on payment failure, and escalation when retries are
// exhausted. The orchestrator owns no business data; it reacts to events and
// issues commands through the bus.
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/analytics"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/idempotency"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
	"github.com/orderflow/fulfillment-system/shared/retry"
)

// ErrSagaAlreadyStarted is returned when a saga is started twice for the
// same order. The caller treats it as success: the first start won.
var ErrSagaAlreadyStarted = errors.New("saga already started for order")

// OrderSagaOrchestrator drives one order through the fulfillment saga.
// Every command publish is wrapped in the retry policy; exhaustion of a
// forward step triggers compensation, exhaustion of compensation escalates
// to manual intervention.
type OrderSagaOrchestrator struct {
	bus       events.Bus
	retry     *retry.Policy
	analytics *analytics.Publisher
	monitor   monitoring.Monitor
	dedup     idempotency.Store
	states    *sagaTracker
	logger    *zap.Logger
}

// NewOrderSagaOrchestrator creates the orchestrator. Nil collaborators fall
// back to in-process defaults so tests can wire only what they assert on.
func NewOrderSagaOrchestrator(
	bus events.Bus,
	retryPolicy *retry.Policy,
	analyticsPublisher *analytics.Publisher,
	monitor monitoring.Monitor,
	dedup idempotency.Store,
	logger *zap.Logger,
) *OrderSagaOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryPolicy == nil {
		retryPolicy = retry.Default(logger)
	}
	if analyticsPublisher == nil {
		analyticsPublisher = analytics.NewPublisher(bus, logger)
	}
	if monitor == nil {
		monitor = monitoring.NewBusMonitor(bus, retryPolicy.MaxAttempts, logger)
	}
	if dedup == nil {
		dedup = idempotency.NewMemoryStore(24 * time.Hour)
	}

	return &OrderSagaOrchestrator{
		bus:       bus,
		retry:     retryPolicy,
		analytics: analyticsPublisher,
		monitor:   monitor,
		dedup:     dedup,
		states:    newSagaTracker(),
		logger:    logger,
	}
}

// RegisterEventHandlers subscribes the orchestrator to the domain events it
// reacts to. Must be called before the bus connects.
func (o *OrderSagaOrchestrator) RegisterEventHandlers() error {
	subscriptions := []struct {
		eventType string
		handle    func(ctx context.Context, message *events.Message) error
	}{
		{events.OrderCreatedEvent, o.handleOrderCreated},
		{events.OrderCreationFailedEvent, o.handleOrderCreationFailed},
		{events.PaymentCompletedEvent, o.handlePaymentCompleted},
		{events.PaymentFailedEvent, o.handlePaymentFailed},
		{events.EmailSentEvent, o.handleEmailSent},
		{events.EmailFailedEvent, o.handleEmailFailed},
	}

	for _, sub := range subscriptions {
		handler := events.NewHandlerFunc("saga-orchestrator:"+sub.eventType, sub.handle)
		if err := o.bus.Subscribe(sub.eventType, handler); err != nil {
			return errors.Wrapf(err, "failed to subscribe to %s", sub.eventType)
		}
	}
	return nil
}

// StartOrderSaga validates the order and publishes the first command. A
// publish failure here has nothing to compensate, so exhaustion escalates
// directly to manual intervention.
func (o *OrderSagaOrchestrator) StartOrderSaga(ctx context.Context, order models.OrderData) error {
	if order.OrderID == "" {
		order.OrderID = models.GenerateUUID().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Cart = order.Cart.Normalize()
	order = order.WithStatus(models.OrderStatusPending)

	if err := order.Validate(); err != nil {
		return monitoring.WithKind(monitoring.KindValidation, err)
	}

	if !o.states.Begin(order.OrderID) {
		o.logger.Info("saga already started, ignoring duplicate start",
			zap.String("order_id", order.OrderID))
		return ErrSagaAlreadyStarted
	}

	correlationID := models.GenerateUUID()
	o.analytics.PublishOrderAnalytics(ctx, "order.create.requested", order)

	message := events.NewMessage(events.OrderCreateCommand, order).WithCorrelationID(correlationID)
	if err := o.publishCommand(ctx, "saga_start", message); err != nil {
		classified := monitoring.WithKind(monitoring.KindSaga, err)
		errCtx := monitoring.ErrorContext{
			Operation: "saga_start",
			OrderID:   order.OrderID,
			UserID:    order.UserID,
			Data:      order,
		}
		o.monitor.TrackFailure(ctx, errCtx, classified)
		o.monitor.Escalate(ctx, errCtx, classified)
		o.states.Force(order.OrderID, SagaStateEscalated)
		return classified
	}

	o.states.Advance(order.OrderID, SagaStateOrderRequested, SagaStateStarted)
	o.logger.Info("order saga started",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("correlation_id", correlationID.String()),
		zap.Float64("total", order.Total))

	return nil
}

// SagaState returns the tracked state for an order, for the status endpoint
func (o *OrderSagaOrchestrator) SagaState(orderID string) (SagaState, bool) {
	return o.states.State(orderID)
}

// publishCommand publishes one command message under the retry policy
func (o *OrderSagaOrchestrator) publishCommand(ctx context.Context, label string, message *events.Message) error {
	return o.retry.Execute(ctx, label, func(ctx context.Context) error {
		return o.bus.Publish(ctx, message)
	})
}

// claim reserves the (orderId, eventType) dedup key. A store error fails
// open: the FSM check-and-set still rejects replayed transitions.
func (o *OrderSagaOrchestrator) claim(ctx context.Context, orderID, eventType string) bool {
	won, err := o.dedup.Claim(ctx, idempotency.Key(orderID, eventType))
	if err != nil {
		o.logger.Warn("idempotency store unavailable, processing anyway",
			zap.String("order_id", orderID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return true
	}
	if !won {
		o.logger.Debug("duplicate delivery skipped",
			zap.String("order_id", orderID),
			zap.String("event_type", eventType))
	}
	return won
}

// trackStepFailure reports a failed saga step on the monitoring channel
func (o *OrderSagaOrchestrator) trackStepFailure(ctx context.Context, operation string, order models.OrderData, kind monitoring.Kind, err error) {
	o.monitor.TrackFailure(ctx, monitoring.ErrorContext{
		Operation: operation,
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Data:      order,
	}, monitoring.WithKind(kind, err))
}

// compensate publishes order.cancel for the order, retried like any other
// command. If even compensation exhausts its retries there is no automated
// way out, so the saga escalates to manual intervention.
func (o *OrderSagaOrchestrator) compensate(ctx context.Context, order models.OrderData, correlationID models.ID, cause error) {
	cancelled := order
	cancelled.Status = models.OrderStatusCancelled

	message := events.NewMessage(events.OrderCancelCommand, cancelled).WithCorrelationID(correlationID)
	err := o.publishCommand(ctx, "compensation", message)
	if err != nil {
		classified := monitoring.WithKind(monitoring.KindCompensation, err)
		errCtx := monitoring.ErrorContext{
			Operation: "compensation",
			OrderID:   order.OrderID,
			UserID:    order.UserID,
			Data:      order,
		}
		o.monitor.TrackFailure(ctx, errCtx, classified)
		o.monitor.Escalate(ctx, errCtx, classified)
		o.states.Force(order.OrderID, SagaStateEscalated)
		return
	}

	o.states.Force(order.OrderID, SagaStateCancelled)
	o.logger.Info("order compensated",
		zap.String("order_id", order.OrderID),
		zap.NamedError("cause", cause))
}
