package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment-system/shared/analytics"
	"github.com/orderflow/fulfillment-system/shared/events"
	"github.com/orderflow/fulfillment-system/shared/idempotency"
	"github.com/orderflow/fulfillment-system/shared/models"
	"github.com/orderflow/fulfillment-system/shared/monitoring"
	"github.com/orderflow/fulfillment-system/shared/retry"
)

// scriptedBus wraps the memory bus, recording every publish and failing the
// first N publishes of configured event types.
type scriptedBus struct {
	inner *events.MemoryBus

	mu        sync.Mutex
	failures  map[string]int
	published map[string][]*events.Message
}

func newScriptedBus() *scriptedBus {
	return &scriptedBus{
		inner:     events.NewMemoryBus(nil),
		failures:  make(map[string]int),
		published: make(map[string][]*events.Message),
	}
}

func (b *scriptedBus) failNext(eventType string, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[eventType] = times
}

func (b *scriptedBus) publishes(eventType string) []*events.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*events.Message(nil), b.published[eventType]...)
}

func (b *scriptedBus) Publish(ctx context.Context, messages ...*events.Message) error {
	for _, message := range messages {
		b.mu.Lock()
		b.published[message.EventType] = append(b.published[message.EventType], message)
		if remaining := b.failures[message.EventType]; remaining > 0 {
			b.failures[message.EventType] = remaining - 1
			b.mu.Unlock()
			return errors.New("connection refused")
		}
		b.mu.Unlock()

		if err := b.inner.Publish(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (b *scriptedBus) Subscribe(eventType string, handler events.Handler) error {
	return b.inner.Subscribe(eventType, handler)
}

func (b *scriptedBus) Connect(ctx context.Context) error    { return b.inner.Connect(ctx) }
func (b *scriptedBus) Disconnect(ctx context.Context) error { return b.inner.Disconnect(ctx) }

type monitorCall struct {
	errCtx monitoring.ErrorContext
	err    error
}

// capturingMonitor records tracking and escalation calls for assertions
type capturingMonitor struct {
	mu          sync.Mutex
	failures    []monitorCall
	escalations []monitorCall
}

func (m *capturingMonitor) TrackFailure(_ context.Context, errCtx monitoring.ErrorContext, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, monitorCall{errCtx: errCtx, err: err})
}

func (m *capturingMonitor) Escalate(_ context.Context, errCtx monitoring.ErrorContext, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations = append(m.escalations, monitorCall{errCtx: errCtx, err: err})
}

func (m *capturingMonitor) escalated() []monitorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]monitorCall(nil), m.escalations...)
}

func (m *capturingMonitor) tracked() []monitorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]monitorCall(nil), m.failures...)
}

type orchestratorFixture struct {
	bus          *scriptedBus
	monitor      *capturingMonitor
	orchestrator *OrderSagaOrchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	bus := newScriptedBus()
	monitor := &capturingMonitor{}
	policy := retry.New(3, time.Millisecond, 2*time.Millisecond, nil)
	orchestrator := NewOrderSagaOrchestrator(
		bus,
		policy,
		analytics.NewPublisher(bus, nil),
		monitor,
		idempotency.NewMemoryStore(time.Hour),
		nil,
	)
	require.NoError(t, orchestrator.RegisterEventHandlers())
	require.NoError(t, bus.Connect(context.Background()))

	return &orchestratorFixture{bus: bus, monitor: monitor, orchestrator: orchestrator}
}

// subscribeStubServices wires minimal downstream services onto the bus so a
// saga can run end to end in process.
func (f *orchestratorFixture) subscribeStubServices(t *testing.T, emailOutcome string) {
	t.Helper()

	require.NoError(t, f.bus.Subscribe(events.OrderCreateCommand,
		events.NewHandlerFunc("stub-order-service", func(ctx context.Context, message *events.Message) error {
			var order models.OrderData
			require.NoError(t, message.UnmarshalPayload(&order))
			created := events.NewMessage(events.OrderCreatedEvent, order).
				WithCorrelationID(message.CorrelationID)
			return f.bus.Publish(ctx, created)
		})))

	require.NoError(t, f.bus.Subscribe(events.PaymentProcessCommand,
		events.NewHandlerFunc("stub-payment-service", func(ctx context.Context, message *events.Message) error {
			var payment models.PaymentData
			require.NoError(t, message.UnmarshalPayload(&payment))
			completed := events.NewMessage(events.PaymentCompletedEvent, payment).
				WithCorrelationID(message.CorrelationID)
			return f.bus.Publish(ctx, completed)
		})))

	require.NoError(t, f.bus.Subscribe(events.EmailSendCommand,
		events.NewHandlerFunc("stub-email-service", func(ctx context.Context, message *events.Message) error {
			var email models.EmailData
			require.NoError(t, message.UnmarshalPayload(&email))
			result := events.NewMessage(emailOutcome, email).
				WithCorrelationID(message.CorrelationID)
			return f.bus.Publish(ctx, result)
		})))
}

func sampleOrder() models.OrderData {
	return models.OrderData{
		OrderID: models.GenerateUUID().String(),
		UserID:  "user-123",
		Cart: models.Cart{
			{ID: 1, Name: "Widget", Price: 49.99},
			{ID: 2, Name: "Gadget", Price: 50.00},
		},
	}
}

func TestStartOrderSaga_HappyPath(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	fixture.subscribeStubServices(t, events.EmailSentEvent)

	order := sampleOrder()
	require.NoError(t, fixture.orchestrator.StartOrderSaga(context.Background(), order))

	state, ok := fixture.orchestrator.SagaState(order.OrderID)
	require.True(t, ok)
	assert.Equal(t, SagaStateOrderConfirmed, state)

	// One command per step, all linked by the starting correlation ID.
	creates := fixture.bus.publishes(events.OrderCreateCommand)
	require.Len(t, creates, 1)
	correlationID := creates[0].CorrelationID

	payments := fixture.bus.publishes(events.PaymentProcessCommand)
	require.Len(t, payments, 1)
	assert.Equal(t, correlationID, payments[0].CorrelationID)

	var payment models.PaymentData
	require.NoError(t, payments[0].UnmarshalPayload(&payment))
	assert.Equal(t, order.OrderID, payment.OrderID)
	assert.Equal(t, 99.99, payment.Total)

	confirms := fixture.bus.publishes(events.OrderConfirmCommand)
	require.Len(t, confirms, 1)
	assert.Equal(t, correlationID, confirms[0].CorrelationID)

	emails := fixture.bus.publishes(events.EmailSendCommand)
	require.Len(t, emails, 1)
	assert.Equal(t, correlationID, emails[0].CorrelationID)

	assert.Empty(t, fixture.bus.publishes(events.OrderCancelCommand))
	assert.Empty(t, fixture.monitor.escalated())
}

func TestStartOrderSaga_ValidationFailure(t *testing.T) {
	tests := []struct {
		name  string
		order models.OrderData
	}{
		{
			name:  "empty cart",
			order: models.OrderData{OrderID: "order-1", UserID: "user-1"},
		},
		{
			name: "missing user",
			order: models.OrderData{
				OrderID: "order-2",
				Cart:    models.Cart{{ID: 1, Name: "Widget", Price: 10}},
			},
		},
		{
			name: "negative price",
			order: models.OrderData{
				OrderID: "order-3",
				UserID:  "user-3",
				Cart:    models.Cart{{ID: 1, Name: "Widget", Price: -1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newOrchestratorFixture(t)

			err := fixture.orchestrator.StartOrderSaga(context.Background(), tt.order)
			require.Error(t, err)
			assert.Equal(t, monitoring.SeverityLow, monitoring.Classify(err))

			// Rejected orders never reach the bus or the state machine.
			assert.Empty(t, fixture.bus.publishes(events.OrderCreateCommand))
			_, tracked := fixture.orchestrator.SagaState(tt.order.OrderID)
			assert.False(t, tracked)
		})
	}
}

func TestStartOrderSaga_PublishExhaustionEscalates(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	fixture.bus.failNext(events.OrderCreateCommand, 10)

	order := sampleOrder()
	err := fixture.orchestrator.StartOrderSaga(context.Background(), order)
	require.Error(t, err)
	assert.True(t, retry.IsExhausted(err))

	// Exactly the configured attempts, then the step gives up for good.
	assert.Len(t, fixture.bus.publishes(events.OrderCreateCommand), 3)

	escalations := fixture.monitor.escalated()
	require.Len(t, escalations, 1)
	assert.Equal(t, order.OrderID, escalations[0].errCtx.OrderID)
	assert.Equal(t, monitoring.SeverityCritical, monitoring.Classify(escalations[0].err))

	state, ok := fixture.orchestrator.SagaState(order.OrderID)
	require.True(t, ok)
	assert.Equal(t, SagaStateEscalated, state)
}

func TestStartOrderSaga_DuplicateStart(t *testing.T) {
	fixture := newOrchestratorFixture(t)

	order := sampleOrder()
	require.NoError(t, fixture.orchestrator.StartOrderSaga(context.Background(), order))

	err := fixture.orchestrator.StartOrderSaga(context.Background(), order)
	assert.ErrorIs(t, err, ErrSagaAlreadyStarted)
	assert.Len(t, fixture.bus.publishes(events.OrderCreateCommand), 1)
}

func TestHandlePaymentFailed_CompensatesUnknownOrder(t *testing.T) {
	fixture := newOrchestratorFixture(t)

	// No saga was ever started for this order in this process.
	failed := events.NewMessage(events.PaymentFailedEvent, map[string]interface{}{
		"orderId": "order-after-restart",
		"userId":  "user-9",
		"error":   "card declined",
	})
	require.NoError(t, fixture.bus.Publish(context.Background(), failed))

	cancels := fixture.bus.publishes(events.OrderCancelCommand)
	require.Len(t, cancels, 1)
	assert.Equal(t, failed.CorrelationID, cancels[0].CorrelationID)

	var cancelled models.OrderData
	require.NoError(t, cancels[0].UnmarshalPayload(&cancelled))
	assert.Equal(t, "order-after-restart", cancelled.OrderID)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	state, ok := fixture.orchestrator.SagaState("order-after-restart")
	require.True(t, ok)
	assert.Equal(t, SagaStateCancelled, state)
	assert.Empty(t, fixture.monitor.escalated())
}

func TestHandlePaymentFailed_DuplicateDeliveryCancelsOnce(t *testing.T) {
	fixture := newOrchestratorFixture(t)

	failed := events.NewMessage(events.PaymentFailedEvent, map[string]interface{}{
		"orderId": "order-42",
		"userId":  "user-42",
		"error":   "insufficient funds",
	})

	require.NoError(t, fixture.bus.Publish(context.Background(), failed))
	require.NoError(t, fixture.bus.Publish(context.Background(), failed))

	assert.Len(t, fixture.bus.publishes(events.OrderCancelCommand), 1)
}

func TestHandlePaymentFailed_CompensationExhaustionEscalates(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	fixture.bus.failNext(events.OrderCancelCommand, 10)

	failed := events.NewMessage(events.PaymentFailedEvent, map[string]interface{}{
		"orderId": "order-7",
		"userId":  "user-7",
		"error":   "card declined",
	})
	require.NoError(t, fixture.bus.Publish(context.Background(), failed))

	assert.Len(t, fixture.bus.publishes(events.OrderCancelCommand), 3)

	escalations := fixture.monitor.escalated()
	require.Len(t, escalations, 1)
	assert.Equal(t, "compensation", escalations[0].errCtx.Operation)
	assert.Equal(t, monitoring.SeverityCritical, monitoring.Classify(escalations[0].err))

	state, ok := fixture.orchestrator.SagaState("order-7")
	require.True(t, ok)
	assert.Equal(t, SagaStateEscalated, state)
}

func TestHandleOrderCreationFailed_EndsSagaWithoutCompensation(t *testing.T) {
	fixture := newOrchestratorFixture(t)

	order := sampleOrder()
	require.NoError(t, fixture.orchestrator.StartOrderSaga(context.Background(), order))

	failed := events.NewMessage(events.OrderCreationFailedEvent, map[string]interface{}{
		"orderId": order.OrderID,
		"userId":  order.UserID,
		"error":   "validation: duplicate order",
	})
	require.NoError(t, fixture.bus.Publish(context.Background(), failed))

	// Nothing was created downstream, so nothing gets cancelled.
	assert.Empty(t, fixture.bus.publishes(events.OrderCancelCommand))
	assert.Empty(t, fixture.monitor.escalated())
	require.NotEmpty(t, fixture.monitor.tracked())

	state, ok := fixture.orchestrator.SagaState(order.OrderID)
	require.True(t, ok)
	assert.Equal(t, SagaStateCancelled, state)
}

func TestHandleEmailFailed_NeverReversesConfirmedOrder(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	fixture.subscribeStubServices(t, events.EmailFailedEvent)

	order := sampleOrder()
	require.NoError(t, fixture.orchestrator.StartOrderSaga(context.Background(), order))

	state, ok := fixture.orchestrator.SagaState(order.OrderID)
	require.True(t, ok)
	assert.Equal(t, SagaStateOrderConfirmed, state)

	assert.Empty(t, fixture.bus.publishes(events.OrderCancelCommand))
	assert.Empty(t, fixture.monitor.escalated())
	require.NotEmpty(t, fixture.monitor.tracked())
	assert.Equal(t, "confirmation_email", fixture.monitor.tracked()[0].errCtx.Operation)
}

func TestHandleOrderCreated_DuplicateDeliveryRequestsPaymentOnce(t *testing.T) {
	fixture := newOrchestratorFixture(t)

	order := sampleOrder()
	require.NoError(t, fixture.orchestrator.StartOrderSaga(context.Background(), order))

	created := events.NewMessage(events.OrderCreatedEvent, order)
	require.NoError(t, fixture.bus.Publish(context.Background(), created))
	require.NoError(t, fixture.bus.Publish(context.Background(), created))

	assert.Len(t, fixture.bus.publishes(events.PaymentProcessCommand), 1)
}

func TestHandlePaymentCompleted_ConfirmExhaustionCompensates(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	fixture.bus.failNext(events.OrderConfirmCommand, 10)

	order := sampleOrder()
	require.NoError(t, fixture.orchestrator.StartOrderSaga(context.Background(), order))

	created := events.NewMessage(events.OrderCreatedEvent, order)
	require.NoError(t, fixture.bus.Publish(context.Background(), created))

	completed := events.NewMessage(events.PaymentCompletedEvent, order.PaymentData())
	require.NoError(t, fixture.bus.Publish(context.Background(), completed))

	assert.Len(t, fixture.bus.publishes(events.OrderConfirmCommand), 3)
	require.Len(t, fixture.bus.publishes(events.OrderCancelCommand), 1)

	state, ok := fixture.orchestrator.SagaState(order.OrderID)
	require.True(t, ok)
	assert.Equal(t, SagaStateCancelled, state)
}
