package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orderflow/fulfillment-system/shared/events"
)

// ErrorContext carries enough information to reconstruct a compensating
// action for the failed operation.
type ErrorContext struct {
	Operation string      `json:"operation"`
	OrderID   string      `json:"orderId"`
	UserID    string      `json:"userId"`
	Data      interface{} `json:"data,omitempty"`
}

// Monitor receives failure tracking and escalation calls. Both are
// fire-and-forget: they never block or fail the saga.
type Monitor interface {
	TrackFailure(ctx context.Context, errCtx ErrorContext, err error)
	Escalate(ctx context.Context, errCtx ErrorContext, err error)
}

// FailureReport is the payload of a monitoring.failure message
type FailureReport struct {
	Operation     string      `json:"operation"`
	Error         string      `json:"error"`
	Context       interface{} `json:"context,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	RetryAttempts int         `json:"retryAttempts"`
	SagaStep      string      `json:"sagaStep"`
	Severity      Severity    `json:"severity"`
}

// EscalationReport is the payload of an error.manual_intervention_required
// message. Raising it is terminal for the order instance.
type EscalationReport struct {
	OrderID   string    `json:"orderId"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Context   struct {
		SagaStep      string `json:"sagaStep"`
		OriginalError string `json:"originalError"`
		RetryAttempts int    `json:"retryAttempts"`
	} `json:"context"`
}

var _ Monitor = (*BusMonitor)(nil)

// BusMonitor publishes failure and escalation reports on the event bus.
// Publish errors are logged and swallowed: the monitoring side channel must
// never propagate into the saga's control flow.
type BusMonitor struct {
	publisher     events.Publisher
	logger        *zap.Logger
	retryAttempts int
}

// NewBusMonitor creates a monitor publishing on the given bus
func NewBusMonitor(publisher events.Publisher, retryAttempts int, logger *zap.Logger) *BusMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusMonitor{
		publisher:     publisher,
		logger:        logger,
		retryAttempts: retryAttempts,
	}
}

// TrackFailure records the failed operation with its derived severity
func (m *BusMonitor) TrackFailure(ctx context.Context, errCtx ErrorContext, err error) {
	report := FailureReport{
		Operation:     errCtx.Operation,
		Error:         err.Error(),
		Context:       errCtx.Data,
		Timestamp:     time.Now().UTC(),
		RetryAttempts: m.retryAttempts,
		SagaStep:      errCtx.Operation,
		Severity:      Classify(err),
	}

	message := events.NewMessage(events.MonitoringFailureEvent, report)
	if publishErr := m.publisher.Publish(ctx, message); publishErr != nil {
		m.logger.Warn("failed to publish failure report",
			zap.String("operation", errCtx.Operation),
			zap.String("order_id", errCtx.OrderID),
			zap.Error(publishErr))
	}

	m.logger.Error("saga operation failed",
		zap.String("operation", errCtx.Operation),
		zap.String("order_id", errCtx.OrderID),
		zap.String("user_id", errCtx.UserID),
		zap.String("severity", string(report.Severity)),
		zap.Error(err))
}

// Escalate raises an out-of-band event for human review
func (m *BusMonitor) Escalate(ctx context.Context, errCtx ErrorContext, err error) {
	severity := Classify(err)
	if severity != SeverityCritical {
		// Manual intervention is only ever raised as HIGH or CRITICAL.
		severity = SeverityHigh
	}

	report := EscalationReport{
		OrderID:   errCtx.OrderID,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		Severity:  severity,
	}
	report.Context.SagaStep = errCtx.Operation
	report.Context.OriginalError = err.Error()
	report.Context.RetryAttempts = m.retryAttempts

	message := events.NewMessage(events.ErrorManualInterventionRequiredEvent, report)
	if publishErr := m.publisher.Publish(ctx, message); publishErr != nil {
		m.logger.Error("failed to publish escalation",
			zap.String("operation", errCtx.Operation),
			zap.String("order_id", errCtx.OrderID),
			zap.Error(publishErr))
	}

	m.logger.Error("escalated to manual intervention",
		zap.String("operation", errCtx.Operation),
		zap.String("order_id", errCtx.OrderID),
		zap.String("severity", string(severity)),
		zap.Error(err))
}
