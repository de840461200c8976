// Package application implements the analytics service: it consumes
// analytics.collect commands and appends them to the analytics audit store.
package application

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/analytics"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/telemetry"
)

// Store appends collected analytics milestones
type Store interface {
	Save(ctx context.Context, eventType, orderID, userID string, message *events.Message) error
}

// Collector consumes analytics.collect and persists the milestones.
// Persistence errors are returned to the bus so the delivery is retried;
// analytics is best-effort on the producer side but durable once accepted.
type Collector struct {
	bus    events.Bus
	store  Store
	logger *zap.Logger
}

// NewCollector creates the collector
func NewCollector(bus events.Bus, store Store, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Collector{bus: bus, store: store, logger: logger}
}

// RegisterEventHandlers subscribes the collector to analytics.collect
func (c *Collector) RegisterEventHandlers() error {
	handler := events.NewHandlerFunc("analytics-service:"+events.AnalyticsCollectCommand, c.handleCollect)
	if err := c.bus.Subscribe(events.AnalyticsCollectCommand, handler); err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", events.AnalyticsCollectCommand)
	}
	return nil
}

func (c *Collector) handleCollect(ctx context.Context, message *events.Message) error {
	var data analytics.Data
	if err := message.UnmarshalPayload(&data); err != nil || data.EventType == "" {
		c.logger.Warn("dropping malformed analytics.collect payload", zap.Error(err))
		return nil
	}

	if err := c.store.Save(ctx, data.EventType, data.OrderID, data.UserID, message); err != nil {
		return errors.Wrap(err, "failed to store analytics milestone")
	}

	telemetry.RecordCounter(ctx, "analytics_milestones_total",
		"Analytics milestones collected", 1)
	c.logger.Debug("analytics milestone stored",
		zap.String("event_type", data.EventType),
		zap.String("order_id", data.OrderID))

	collected := events.NewMessage(events.AnalyticsCollectedEvent, data).
		WithCorrelationID(message.CorrelationID)
	return c.bus.Publish(ctx, collected)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store for local runs and tests
type MemoryStore struct {
	mux     sync.RWMutex
	records []memoryRecord
}

type memoryRecord struct {
	eventType string
	orderID   string
	userID    string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, eventType, orderID, userID string, _ *events.Message) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.records = append(s.records, memoryRecord{
		eventType: eventType,
		orderID:   orderID,
		userID:    userID,
	})
	return nil
}

// CountByType returns how many milestones were stored per event type
func (s *MemoryStore) CountByType() map[string]int {
	s.mux.RLock()
	defer s.mux.RUnlock()

	counts := make(map[string]int)
	for _, record := range s.records {
		counts[record.eventType]++
	}
	return counts
}
