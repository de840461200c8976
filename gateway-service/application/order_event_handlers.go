package application

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
)

// handleOrderCreated advances the saga to the payment step. Malformed and
// duplicate deliveries are dropped, not returned as errors: returning an
// error would make the bus redeliver something that can never succeed or has
// already been handled.
func (o *OrderSagaOrchestrator) handleOrderCreated(ctx context.Context, message *events.Message) error {
	var order models.OrderData
	if err := message.UnmarshalPayload(&order); err != nil || order.OrderID == "" {
		o.logger.Warn("dropping malformed order.created payload", zap.Error(err))
		return nil
	}

	if !o.claim(ctx, order.OrderID, events.OrderCreatedEvent) {
		return nil
	}
	if !o.states.Advance(order.OrderID, SagaStateOrderCreated, SagaStateOrderRequested, SagaStateStarted) {
		o.logger.Debug("ignoring out-of-order order.created",
			zap.String("order_id", order.OrderID))
		return nil
	}

	processing := order.WithStatus(models.OrderStatusProcessing)
	o.analytics.PublishOrderAnalytics(ctx, "payment.process.requested", processing)

	command := events.NewMessage(events.PaymentProcessCommand, processing.PaymentData()).
		WithCorrelationID(message.CorrelationID)
	if err := o.publishCommand(ctx, "payment_processing", command); err != nil {
		// Forward step exhausted: the order exists downstream, undo it.
		o.trackStepFailure(ctx, "payment_processing", processing, monitoring.KindSaga, err)
		o.compensate(ctx, processing, message.CorrelationID, err)
		return nil
	}

	o.states.Advance(order.OrderID, SagaStatePaymentRequested, SagaStateOrderCreated)
	o.logger.Info("payment requested",
		zap.String("order_id", order.OrderID),
		zap.Float64("total", processing.Total))

	return nil
}

// handleOrderCreationFailed ends the saga without compensation: nothing was
// created downstream, so there is nothing to undo.
func (o *OrderSagaOrchestrator) handleOrderCreationFailed(ctx context.Context, message *events.Message) error {
	var payload struct {
		OrderID string `json:"orderId"`
		UserID  string `json:"userId"`
		Error   string `json:"error"`
	}
	if err := message.UnmarshalPayload(&payload); err != nil || payload.OrderID == "" {
		o.logger.Warn("dropping malformed order.creation.failed payload", zap.Error(err))
		return nil
	}

	if !o.claim(ctx, payload.OrderID, events.OrderCreationFailedEvent) {
		return nil
	}

	o.states.Force(payload.OrderID, SagaStateCancelled)

	reason := payload.Error
	if reason == "" {
		reason = "order creation failed"
	}
	o.monitor.TrackFailure(ctx, monitoring.ErrorContext{
		Operation: "order_creation",
		OrderID:   payload.OrderID,
		UserID:    payload.UserID,
		Data:      payload,
	}, errors.New(reason))

	o.logger.Info("saga ended: order creation failed",
		zap.String("order_id", payload.OrderID),
		zap.String("reason", reason))

	return nil
}
