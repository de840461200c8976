// Package analytics publishes best-effort analytics commands. Analytics is
// a side channel: its failures are logged and never affect the saga.
package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/models"
)

// Data is the payload of an analytics.collect command
type Data struct {
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	Data      Snapshot  `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot captures the order fields analytics cares about
type Snapshot struct {
	Total  float64            `json:"total"`
	Cart   models.Cart        `json:"cart"`
	Status models.OrderStatus `json:"status,omitempty"`
}

// Publisher emits analytics.collect commands on the event bus
type Publisher struct {
	publisher events.Publisher
	logger    *zap.Logger
}

// NewPublisher creates an analytics publisher
func NewPublisher(publisher events.Publisher, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{publisher: publisher, logger: logger}
}

// PublishOrderAnalytics records an order milestone. Never returns an error:
// a failed analytics publish must not fail the caller.
func (p *Publisher) PublishOrderAnalytics(ctx context.Context, eventType string, order models.OrderData) {
	payload := Data{
		EventType: eventType,
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Data: Snapshot{
			Total:  order.Total,
			Cart:   order.Cart,
			Status: order.Status,
		},
		Timestamp: time.Now().UTC(),
	}

	message := events.NewMessage(events.AnalyticsCollectCommand, payload)
	if err := p.publisher.Publish(ctx, message); err != nil {
		p.logger.Warn("analytics publish failed",
			zap.String("event_type", eventType),
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		return
	}

	p.logger.Debug("analytics published",
		zap.String("event_type", eventType),
		zap.String("order_id", order.OrderID))
}
