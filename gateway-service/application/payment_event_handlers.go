package application

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
)

// handlePaymentCompleted confirms the order and requests the confirmation
// email. Both publishes are retried independently; if either exhausts its
// retries the payment has already been taken, so the saga compensates.
func (o *OrderSagaOrchestrator) handlePaymentCompleted(ctx context.Context, message *events.Message) error {
	var payment models.PaymentData
	if err := message.UnmarshalPayload(&payment); err != nil || payment.OrderID == "" {
		o.logger.Warn("dropping malformed payment.completed payload", zap.Error(err))
		return nil
	}

	if !o.claim(ctx, payment.OrderID, events.PaymentCompletedEvent) {
		return nil
	}
	if !o.states.Advance(payment.OrderID, SagaStatePaymentConfirmed,
		SagaStatePaymentRequested, SagaStateOrderCreated) {
		o.logger.Debug("ignoring out-of-order payment.completed",
			zap.String("order_id", payment.OrderID))
		return nil
	}

	completed := orderFromPayment(payment, models.OrderStatusCompleted)
	o.analytics.PublishOrderAnalytics(ctx, events.PaymentCompletedEvent, completed)

	confirm := events.NewMessage(events.OrderConfirmCommand, completed).
		WithCorrelationID(message.CorrelationID)
	if err := o.publishCommand(ctx, "order_confirmation", confirm); err != nil {
		o.trackStepFailure(ctx, "order_confirmation", completed, monitoring.KindSaga, err)
		o.compensate(ctx, completed, message.CorrelationID, err)
		return nil
	}
	o.analytics.PublishOrderAnalytics(ctx, "order.confirm.requested", completed)

	email := models.EmailData{
		OrderID: completed.OrderID,
		UserID:  completed.UserID,
		Email:   notificationAddress(completed.UserID),
		Type:    models.EmailTypeOrderConfirmation,
	}
	send := events.NewMessage(events.EmailSendCommand, email).
		WithCorrelationID(message.CorrelationID)
	if err := o.publishCommand(ctx, "confirmation_email", send); err != nil {
		o.trackStepFailure(ctx, "confirmation_email", completed, monitoring.KindSaga, err)
		o.compensate(ctx, completed, message.CorrelationID, err)
		return nil
	}

	o.states.Advance(payment.OrderID, SagaStateOrderConfirmed, SagaStatePaymentConfirmed)
	o.logger.Info("order confirmed",
		zap.String("order_id", payment.OrderID),
		zap.Float64("total", completed.Total))

	return nil
}

// handlePaymentFailed runs the compensating transaction. The dedup claim
// guarantees exactly one order.cancel per payment failure, and compensation
// runs even for orders this process never observed: with no durable saga
// store, an unknown orderId usually means the process restarted mid-saga.
func (o *OrderSagaOrchestrator) handlePaymentFailed(ctx context.Context, message *events.Message) error {
	var payload struct {
		models.PaymentData
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := message.UnmarshalPayload(&payload); err != nil || payload.OrderID == "" {
		o.logger.Warn("dropping malformed payment.failed payload", zap.Error(err))
		return nil
	}

	if !o.claim(ctx, payload.OrderID, events.PaymentFailedEvent) {
		return nil
	}

	reason := payload.Error
	if reason == "" {
		reason = payload.Reason
	}
	if reason == "" {
		reason = "payment failed"
	}
	cause := errors.New(reason)

	order := orderFromPayment(payload.PaymentData, models.OrderStatusCancelled)
	o.analytics.PublishOrderAnalytics(ctx, events.PaymentFailedEvent, order)
	o.monitor.TrackFailure(ctx, monitoring.ErrorContext{
		Operation: "payment_processing",
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Data:      payload,
	}, cause)

	o.compensate(ctx, order, message.CorrelationID, cause)
	return nil
}

// orderFromPayment rebuilds an order view from a payment payload. The cart
// may be absent on failure payloads, in which case the reported total is
// kept as-is.
func orderFromPayment(payment models.PaymentData, status models.OrderStatus) models.OrderData {
	order := models.OrderData{
		OrderID: payment.OrderID,
		Cart:    payment.Cart,
		UserID:  payment.UserID,
		Total:   payment.Total,
		Status:  status,
	}
	if len(order.Cart) > 0 {
		order.Total = order.Cart.Total()
	}
	return order
}

// notificationAddress derives the recipient address. There is no user
// profile service to look it up from.
func notificationAddress(userID string) string {
	return fmt.Sprintf("%s@example.com", userID)
}
