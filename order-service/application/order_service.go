// Package application implements the order service: the owner of the order
// lifecycle commands. It consumes order.create, order.confirm and
// order.cancel and answers with the corresponding facts.
package application

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/idempotency"
	"github.com/orderflow/fulfillment-system/shared/models"
)

// OrderService consumes order commands and emits order events. Orders live
// in memory; the service is the system of record only for the duration of
// the saga.
type OrderService struct {
	bus    events.Bus
	dedup  idempotency.Store
	logger *zap.Logger

	mux    sync.RWMutex
	orders map[string]models.OrderData
}

// NewOrderService creates the service
func NewOrderService(bus events.Bus, dedup idempotency.Store, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedup == nil {
		dedup = idempotency.NewMemoryStore(0)
	}
	return &OrderService{
		bus:    bus,
		dedup:  dedup,
		logger: logger,
		orders: make(map[string]models.OrderData),
	}
}

// RegisterEventHandlers subscribes the service to its commands
func (s *OrderService) RegisterEventHandlers() error {
	subscriptions := []struct {
		eventType string
		handle    func(ctx context.Context, message *events.Message) error
	}{
		{events.OrderCreateCommand, s.handleCreate},
		{events.OrderConfirmCommand, s.handleConfirm},
		{events.OrderCancelCommand, s.handleCancel},
	}

	for _, sub := range subscriptions {
		handler := events.NewHandlerFunc("order-service:"+sub.eventType, sub.handle)
		if err := s.bus.Subscribe(sub.eventType, handler); err != nil {
			return errors.Wrapf(err, "failed to subscribe to %s", sub.eventType)
		}
	}
	return nil
}

// Order returns the stored order, if the service has seen it
func (s *OrderService) Order(orderID string) (models.OrderData, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	order, ok := s.orders[orderID]
	return order, ok
}

func (s *OrderService) handleCreate(ctx context.Context, message *events.Message) error {
	var order models.OrderData
	if err := message.UnmarshalPayload(&order); err != nil || order.OrderID == "" {
		s.logger.Warn("dropping malformed order.create payload", zap.Error(err))
		return nil
	}

	if !s.claim(ctx, order.OrderID, events.OrderCreateCommand) {
		return nil
	}

	if err := order.Validate(); err != nil {
		s.logger.Info("order rejected",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		failed := events.NewMessage(events.OrderCreationFailedEvent, map[string]string{
			"orderId": order.OrderID,
			"userId":  order.UserID,
			"error":   err.Error(),
		}).WithCorrelationID(message.CorrelationID)
		return s.bus.Publish(ctx, failed)
	}

	created := order.WithStatus(models.OrderStatusPending)
	s.store(created)

	s.logger.Info("order created",
		zap.String("order_id", created.OrderID),
		zap.Float64("total", created.Total))

	event := events.NewMessage(events.OrderCreatedEvent, created).
		WithCorrelationID(message.CorrelationID)
	return s.bus.Publish(ctx, event)
}

func (s *OrderService) handleConfirm(ctx context.Context, message *events.Message) error {
	var order models.OrderData
	if err := message.UnmarshalPayload(&order); err != nil || order.OrderID == "" {
		s.logger.Warn("dropping malformed order.confirm payload", zap.Error(err))
		return nil
	}

	if !s.claim(ctx, order.OrderID, events.OrderConfirmCommand) {
		return nil
	}

	confirmed := s.transition(order, models.OrderStatusCompleted)
	s.logger.Info("order confirmed", zap.String("order_id", confirmed.OrderID))

	event := events.NewMessage(events.OrderConfirmedEvent, confirmed).
		WithCorrelationID(message.CorrelationID)
	return s.bus.Publish(ctx, event)
}

func (s *OrderService) handleCancel(ctx context.Context, message *events.Message) error {
	var order models.OrderData
	if err := message.UnmarshalPayload(&order); err != nil || order.OrderID == "" {
		s.logger.Warn("dropping malformed order.cancel payload", zap.Error(err))
		return nil
	}

	if !s.claim(ctx, order.OrderID, events.OrderCancelCommand) {
		return nil
	}

	cancelled := s.transition(order, models.OrderStatusCancelled)
	s.logger.Info("order cancelled", zap.String("order_id", cancelled.OrderID))

	event := events.NewMessage(events.OrderCancelledEvent, cancelled).
		WithCorrelationID(message.CorrelationID)
	return s.bus.Publish(ctx, event)
}

// transition updates the stored order's status, falling back to the command
// payload when the order was created elsewhere.
func (s *OrderService) transition(order models.OrderData, status models.OrderStatus) models.OrderData {
	s.mux.Lock()
	defer s.mux.Unlock()

	stored, ok := s.orders[order.OrderID]
	if !ok {
		stored = order
	}
	stored.Status = status
	s.orders[order.OrderID] = stored
	return stored
}

func (s *OrderService) store(order models.OrderData) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.orders[order.OrderID] = order
}

func (s *OrderService) claim(ctx context.Context, orderID, eventType string) bool {
	won, err := s.dedup.Claim(ctx, idempotency.Key(orderID, eventType))
	if err != nil {
		s.logger.Warn("idempotency store unavailable, processing anyway",
			zap.String("order_id", orderID), zap.Error(err))
		return true
	}
	return won
}
