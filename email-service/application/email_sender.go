// Package application implements the email service: it consumes email.send
// commands and reports delivery as email.sent or email.failed.
package application

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/idempotency"
	"github.com/orderflow/fulfillment-system/shared/models"
)

// EmailFailure is the payload of an email.failed event
type EmailFailure struct {
	models.EmailData
	Error string `json:"error"`
}

// Sender delivers one email. The production deployment would back this with
// a real mail provider; the default logs the delivery.
type Sender func(ctx context.Context, email models.EmailData) error

// EmailSender consumes email.send commands
type EmailSender struct {
	bus    events.Bus
	dedup  idempotency.Store
	send   Sender
	logger *zap.Logger
}

// NewEmailSender creates the service
func NewEmailSender(bus events.Bus, dedup idempotency.Store, send Sender, logger *zap.Logger) *EmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedup == nil {
		dedup = idempotency.NewMemoryStore(0)
	}
	s := &EmailSender{bus: bus, dedup: dedup, send: send, logger: logger}
	if s.send == nil {
		s.send = s.logDelivery
	}
	return s
}

// RegisterEventHandlers subscribes the service to email.send
func (s *EmailSender) RegisterEventHandlers() error {
	handler := events.NewHandlerFunc("email-service:"+events.EmailSendCommand, s.handleSend)
	if err := s.bus.Subscribe(events.EmailSendCommand, handler); err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", events.EmailSendCommand)
	}
	return nil
}

func (s *EmailSender) handleSend(ctx context.Context, message *events.Message) error {
	var email models.EmailData
	if err := message.UnmarshalPayload(&email); err != nil || email.OrderID == "" {
		s.logger.Warn("dropping malformed email.send payload", zap.Error(err))
		return nil
	}

	won, err := s.dedup.Claim(ctx, idempotency.Key(email.OrderID, events.EmailSendCommand))
	if err != nil {
		s.logger.Warn("idempotency store unavailable, processing anyway",
			zap.String("order_id", email.OrderID), zap.Error(err))
	} else if !won {
		return nil
	}

	if email.Email == "" {
		return s.publishFailure(ctx, message, email, errors.New("validation: recipient address is required"))
	}

	if err := s.send(ctx, email); err != nil {
		s.logger.Warn("email delivery failed",
			zap.String("order_id", email.OrderID),
			zap.Error(err))
		return s.publishFailure(ctx, message, email, err)
	}

	sent := events.NewMessage(events.EmailSentEvent, email).
		WithCorrelationID(message.CorrelationID)
	return s.bus.Publish(ctx, sent)
}

func (s *EmailSender) publishFailure(ctx context.Context, message *events.Message, email models.EmailData, cause error) error {
	failed := events.NewMessage(events.EmailFailedEvent, EmailFailure{
		EmailData: email,
		Error:     cause.Error(),
	}).WithCorrelationID(message.CorrelationID)
	return s.bus.Publish(ctx, failed)
}

func (s *EmailSender) logDelivery(_ context.Context, email models.EmailData) error {
	s.logger.Info("email delivered",
		zap.String("order_id", email.OrderID),
		zap.String("email", email.Email),
		zap.String("type", string(email.Type)))
	return nil
}
