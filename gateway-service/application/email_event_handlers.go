package application

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
)

// handleEmailSent closes out the notification step. The saga is already in
// its terminal confirmed state; this is an acknowledgement, not a transition.
func (o *OrderSagaOrchestrator) handleEmailSent(ctx context.Context, message *events.Message) error {
	var email models.EmailData
	if err := message.UnmarshalPayload(&email); err != nil || email.OrderID == "" {
		o.logger.Warn("dropping malformed email.sent payload", zap.Error(err))
		return nil
	}

	if !o.claim(ctx, email.OrderID, events.EmailSentEvent) {
		return nil
	}

	o.logger.Info("confirmation email delivered",
		zap.String("order_id", email.OrderID),
		zap.String("email", email.Email))
	return nil
}

// handleEmailFailed records the failure but never reverses the order: by the
// time the email is attempted the payment is confirmed, and a notification
// problem is not grounds for undoing a paid order.
func (o *OrderSagaOrchestrator) handleEmailFailed(ctx context.Context, message *events.Message) error {
	var payload struct {
		models.EmailData
		Error string `json:"error"`
	}
	if err := message.UnmarshalPayload(&payload); err != nil || payload.OrderID == "" {
		o.logger.Warn("dropping malformed email.failed payload", zap.Error(err))
		return nil
	}

	if !o.claim(ctx, payload.OrderID, events.EmailFailedEvent) {
		return nil
	}

	reason := payload.Error
	if reason == "" {
		reason = "email delivery failed"
	}
	o.monitor.TrackFailure(ctx, monitoring.ErrorContext{
		Operation: "confirmation_email",
		OrderID:   payload.OrderID,
		UserID:    payload.UserID,
		Data:      payload,
	}, errors.New(reason))

	o.logger.Warn("confirmation email failed, order remains confirmed",
		zap.String("order_id", payload.OrderID),
		zap.String("reason", reason))
	return nil
}
