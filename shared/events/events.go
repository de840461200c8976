package events

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/orderflow/fulfillment-system/shared/models"
)

var (
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidReceiver  = errors.New("receiver should be a pointer")
	ErrNotConnected     = errors.New("event bus is not connected")
)

// Message is the wire envelope shared by every producer and consumer.
// EventType names ending in an imperative suffix are commands (intent,
// consumed by the owning service); past-tense names are events (facts,
// consumable by anyone).
type Message struct {
	EventType     string      `json:"eventType"`
	Data          interface{} `json:"data"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID models.ID   `json:"correlationId"`
}

// NewMessage creates a message with a fresh correlation ID
func NewMessage(eventType string, data interface{}) *Message {
	return &Message{
		EventType:     eventType,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: models.GenerateUUID(),
	}
}

// WithCorrelationID sets the correlation ID linking all messages of one saga
func (m *Message) WithCorrelationID(correlationID models.ID) *Message {
	m.CorrelationID = correlationID
	return m
}

// ToJSON converts the message to its wire form
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses a message from its wire form
func FromJSON(data []byte) (*Message, error) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message")
	}
	if message.EventType == "" {
		return nil, ErrInvalidEventType
	}
	return &message, nil
}

// MarshalPayload marshals the message payload
func (m *Message) MarshalPayload() (json.RawMessage, error) {
	if b, ok := m.Data.([]byte); ok {
		return b, nil
	}
	if b, ok := m.Data.(json.RawMessage); ok {
		return b, nil
	}
	return json.Marshal(m.Data)
}

// UnmarshalPayload unmarshals the message payload into the given receiver.
// Payloads survive transport round-trips as raw JSON or generic maps, so the
// receiver is filled either directly or through a marshal round-trip.
func (m *Message) UnmarshalPayload(v interface{}) error {
	vValue := reflect.ValueOf(v)
	if vValue.Kind() != reflect.Ptr {
		return ErrInvalidReceiver
	}

	vValue = vValue.Elem()
	payloadValue := reflect.ValueOf(m.Data)
	if m.Data != nil && vValue.Type() == payloadValue.Type() {
		vValue.Set(payloadValue)
		return nil
	}

	if b, ok := m.Data.([]byte); ok {
		return json.Unmarshal(b, v)
	}
	if b, ok := m.Data.(json.RawMessage); ok {
		return json.Unmarshal([]byte(b), v)
	}

	raw, err := m.MarshalPayload()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Handler handles a delivered message
type Handler interface {
	HandlerID() string
	Handle(ctx context.Context, message *Message) error
}

// HandlerFunc wraps a function as a Handler
type HandlerFunc struct {
	id string
	fn func(ctx context.Context, message *Message) error
}

func NewHandlerFunc(id string, fn func(ctx context.Context, message *Message) error) *HandlerFunc {
	return &HandlerFunc{id: id, fn: fn}
}

func (h *HandlerFunc) HandlerID() string {
	return h.id
}

func (h *HandlerFunc) Handle(ctx context.Context, message *Message) error {
	return h.fn(ctx, message)
}

// Publisher publishes messages
type Publisher interface {
	Publish(ctx context.Context, messages ...*Message) error
}

// Subscriber registers handlers for future messages of an event type.
// Handlers registered under the same event type run independently, once per
// message, with no ordering guarantee across handlers; duplicate and
// out-of-order delivery must be tolerated.
type Subscriber interface {
	Subscribe(eventType string, handler Handler) error
}

// Bus is the full publish/subscribe abstraction the saga coordinates
// through. Connect and Disconnect are idempotent; delivery is at-least-once.
type Bus interface {
	Publisher
	Subscriber
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Command event types (imperative: intent to be consumed by the owner)
const (
	OrderCreateCommand      = "order.create"
	OrderConfirmCommand     = "order.confirm"
	OrderCancelCommand      = "order.cancel"
	PaymentProcessCommand   = "payment.process"
	EmailSendCommand        = "email.send"
	AnalyticsCollectCommand = "analytics.collect"
)

// Domain event types (past-tense: facts)
const (
	OrderCreatedEvent        = "order.created"
	OrderCreationFailedEvent = "order.creation.failed"
	OrderConfirmedEvent      = "order.confirmed"
	OrderCancelledEvent      = "order.cancelled"
	PaymentCompletedEvent    = "payment.completed"
	PaymentFailedEvent       = "payment.failed"
	EmailSentEvent           = "email.sent"
	EmailFailedEvent         = "email.failed"
	AnalyticsCollectedEvent  = "analytics.collected"
)

// Operational event families
const (
	ErrorRetryExhaustedEvent             = "error.retry_exhausted"
	ErrorCircuitBreakerOpenEvent         = "error.circuit_breaker_open"
	ErrorTimeoutEvent                    = "error.timeout"
	ErrorValidationFailedEvent           = "error.validation_failed"
	ErrorBusinessRuleViolationEvent      = "error.business_rule_violation"
	ErrorInfrastructureFailureEvent      = "error.infrastructure_failure"
	ErrorDeadLetterQueuedEvent           = "error.dead_letter_queued"
	ErrorManualInterventionRequiredEvent = "error.manual_intervention_required"

	MonitoringFailureEvent                  = "monitoring.failure"
	MonitoringRetryAttemptEvent             = "monitoring.retry_attempt"
	MonitoringCircuitBreakerStateEvent      = "monitoring.circuit_breaker_state_change"
	MonitoringServiceHealthCheckEvent       = "monitoring.service_health_check"
	MonitoringPerformanceMetricsEvent       = "monitoring.performance_metrics"
)
