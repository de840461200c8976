package application

import "sync"

// SagaState is the inferred per-order position in the saga. States are
// tracked in memory only; there is no durable saga-instance store, so state
// is rebuilt from the message stream after a restart.
type SagaState string

const (
	SagaStateStarted          SagaState = "STARTED"
	SagaStateOrderRequested   SagaState = "ORDER_REQUESTED"
	SagaStateOrderCreated     SagaState = "ORDER_CREATED"
	SagaStatePaymentRequested SagaState = "PAYMENT_REQUESTED"
	SagaStatePaymentConfirmed SagaState = "PAYMENT_CONFIRMED"
	SagaStateOrderConfirmed   SagaState = "ORDER_CONFIRMED"
	SagaStateCancelled        SagaState = "CANCELLED"
	SagaStateEscalated        SagaState = "ESCALATED"
)

// Terminal reports whether the saga instance is finished
func (s SagaState) Terminal() bool {
	switch s {
	case SagaStateOrderConfirmed, SagaStateCancelled, SagaStateEscalated:
		return true
	}
	return false
}

// sagaTracker is the explicit finite-state machine keyed by orderId. All
// transitions are atomic check-and-set under one lock, which is what makes
// duplicate deliveries safe: the second delivery loses the transition.
type sagaTracker struct {
	mux    sync.Mutex
	states map[string]SagaState
}

func newSagaTracker() *sagaTracker {
	return &sagaTracker{states: make(map[string]SagaState)}
}

// Begin creates a new instance in STARTED. Returns false if the order is
// already tracked.
func (t *sagaTracker) Begin(orderID string) bool {
	t.mux.Lock()
	defer t.mux.Unlock()

	if _, exists := t.states[orderID]; exists {
		return false
	}
	t.states[orderID] = SagaStateStarted
	return true
}

// Advance moves the instance to the given state if the current state is one
// of the allowed sources. An untracked order is admitted as well: with no
// durable store the orchestrator must accept events for orders it never
// observed (e.g. after a restart). Returns false when the transition loses,
// which callers treat as a duplicate or out-of-order delivery.
func (t *sagaTracker) Advance(orderID string, to SagaState, from ...SagaState) bool {
	t.mux.Lock()
	defer t.mux.Unlock()

	current, exists := t.states[orderID]
	if !exists {
		t.states[orderID] = to
		return true
	}
	if current.Terminal() {
		return false
	}
	for _, allowed := range from {
		if current == allowed {
			t.states[orderID] = to
			return true
		}
	}
	return false
}

// Force moves the instance to the given state regardless of its current
// position. Used for escalation, which overrides any in-flight step.
func (t *sagaTracker) Force(orderID string, to SagaState) {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.states[orderID] = to
}

// State returns the tracked state for an order
func (t *sagaTracker) State(orderID string) (SagaState, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()
	state, ok := t.states[orderID]
	return state, ok
}
