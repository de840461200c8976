package application

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaStateTerminal(t *testing.T) {
	terminal := []SagaState{SagaStateOrderConfirmed, SagaStateCancelled, SagaStateEscalated}
	for _, state := range terminal {
		assert.True(t, state.Terminal(), string(state))
	}

	active := []SagaState{
		SagaStateStarted, SagaStateOrderRequested, SagaStateOrderCreated,
		SagaStatePaymentRequested, SagaStatePaymentConfirmed,
	}
	for _, state := range active {
		assert.False(t, state.Terminal(), string(state))
	}
}

func TestSagaTrackerBegin(t *testing.T) {
	tracker := newSagaTracker()

	require.True(t, tracker.Begin("order-1"))
	assert.False(t, tracker.Begin("order-1"))

	state, ok := tracker.State("order-1")
	require.True(t, ok)
	assert.Equal(t, SagaStateStarted, state)
}

func TestSagaTrackerAdvance(t *testing.T) {
	t.Run("allowed transition", func(t *testing.T) {
		tracker := newSagaTracker()
		tracker.Begin("order-1")

		assert.True(t, tracker.Advance("order-1", SagaStateOrderRequested, SagaStateStarted))

		state, _ := tracker.State("order-1")
		assert.Equal(t, SagaStateOrderRequested, state)
	})

	t.Run("wrong source state loses", func(t *testing.T) {
		tracker := newSagaTracker()
		tracker.Begin("order-1")

		assert.False(t, tracker.Advance("order-1", SagaStatePaymentConfirmed, SagaStatePaymentRequested))

		state, _ := tracker.State("order-1")
		assert.Equal(t, SagaStateStarted, state)
	})

	t.Run("untracked order is admitted", func(t *testing.T) {
		tracker := newSagaTracker()

		assert.True(t, tracker.Advance("order-unseen", SagaStateOrderCreated, SagaStateOrderRequested))

		state, ok := tracker.State("order-unseen")
		require.True(t, ok)
		assert.Equal(t, SagaStateOrderCreated, state)
	})

	t.Run("terminal state blocks everything", func(t *testing.T) {
		tracker := newSagaTracker()
		tracker.Force("order-1", SagaStateCancelled)

		assert.False(t, tracker.Advance("order-1", SagaStateOrderCreated, SagaStateCancelled))

		state, _ := tracker.State("order-1")
		assert.Equal(t, SagaStateCancelled, state)
	})
}

func TestSagaTrackerForce(t *testing.T) {
	tracker := newSagaTracker()
	tracker.Begin("order-1")

	tracker.Force("order-1", SagaStateEscalated)

	state, _ := tracker.State("order-1")
	assert.Equal(t, SagaStateEscalated, state)
}

func TestSagaTrackerConcurrentAdvanceSingleWinner(t *testing.T) {
	tracker := newSagaTracker()
	tracker.Begin("order-1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Advance("order-1", SagaStateOrderRequested, SagaStateStarted) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
