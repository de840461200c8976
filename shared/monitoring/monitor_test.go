package monitoring

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment-system/shared/events"
)

// capturingPublisher records published messages and optionally fails
type capturingPublisher struct {
	messages []*events.Message
	err      error
}

func (p *capturingPublisher) Publish(_ context.Context, msgs ...*events.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msgs...)
	return nil
}

func TestBusMonitor_TrackFailure(t *testing.T) {
	publisher := &capturingPublisher{}
	monitor := NewBusMonitor(publisher, 3, nil)

	monitor.TrackFailure(context.Background(), ErrorContext{
		Operation: "payment_processing",
		OrderID:   "o1",
		UserID:    "u1",
	}, errors.New("downstream timeout"))

	require.Len(t, publisher.messages, 1)
	msg := publisher.messages[0]
	assert.Equal(t, events.MonitoringFailureEvent, msg.EventType)
	assert.Equal(t, events.MonitoringChannel, events.ChannelFor(msg.EventType))

	var report FailureReport
	require.NoError(t, msg.UnmarshalPayload(&report))
	assert.Equal(t, "payment_processing", report.Operation)
	assert.Equal(t, SeverityMedium, report.Severity)
	assert.Equal(t, 3, report.RetryAttempts)
}

func TestBusMonitor_Escalate(t *testing.T) {
	publisher := &capturingPublisher{}
	monitor := NewBusMonitor(publisher, 3, nil)

	monitor.Escalate(context.Background(), ErrorContext{
		Operation: "order_compensation",
		OrderID:   "o1",
		UserID:    "u1",
	}, WithKind(KindCompensation, errors.New("cancel publish exhausted")))

	require.Len(t, publisher.messages, 1)
	msg := publisher.messages[0]
	assert.Equal(t, events.ErrorManualInterventionRequiredEvent, msg.EventType)
	assert.Equal(t, events.ErrorChannel, events.ChannelFor(msg.EventType))

	var report EscalationReport
	require.NoError(t, msg.UnmarshalPayload(&report))
	assert.Equal(t, "o1", report.OrderID)
	assert.Equal(t, SeverityCritical, report.Severity)
	assert.Equal(t, "order_compensation", report.Context.SagaStep)
}

func TestBusMonitor_EscalationSeverityFloorsAtHigh(t *testing.T) {
	publisher := &capturingPublisher{}
	monitor := NewBusMonitor(publisher, 3, nil)

	// A plain transient error would classify MEDIUM, but manual
	// intervention is always raised at least HIGH.
	monitor.Escalate(context.Background(), ErrorContext{OrderID: "o2"}, errors.New("timeout"))

	require.Len(t, publisher.messages, 1)
	var report EscalationReport
	require.NoError(t, publisher.messages[0].UnmarshalPayload(&report))
	assert.Equal(t, SeverityHigh, report.Severity)
}

func TestBusMonitor_PublishFailureNeverPanicsOrPropagates(t *testing.T) {
	publisher := &capturingPublisher{err: errors.New("broker unreachable")}
	monitor := NewBusMonitor(publisher, 3, nil)

	// Fire-and-forget: nothing to assert beyond "does not blow up".
	monitor.TrackFailure(context.Background(), ErrorContext{OrderID: "o1"}, errors.New("boom"))
	monitor.Escalate(context.Background(), ErrorContext{OrderID: "o1"}, errors.New("boom"))
	assert.Empty(t, publisher.messages)
}
