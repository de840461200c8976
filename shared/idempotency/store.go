// Package idempotency provides atomic check-and-set deduplication for
// at-least-once delivery: a handler claims a (orderId, eventName) key before
// acting, and duplicate deliveries lose the claim.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store claims processing keys with atomic check-and-set semantics
type Store interface {
	// Claim returns true exactly once per key: the caller that wins the
	// claim processes the message, later claimants skip it.
	Claim(ctx context.Context, key string) (bool, error)
}

// Key builds the dedup key for an order-scoped event
func Key(orderID, eventType string) string {
	return fmt.Sprintf("saga:%s:%s", orderID, eventType)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store. Entries expire after TTL so a
// long-lived process does not accumulate keys forever.
type MemoryStore struct {
	mux  sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore creates a memory store; ttl<=0 disables expiry
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim implements Store
func (s *MemoryStore) Claim(_ context.Context, key string) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now()
	if claimed, ok := s.seen[key]; ok {
		if s.ttl <= 0 || now.Sub(claimed) < s.ttl {
			return false, nil
		}
	}

	s.seen[key] = now
	return true, nil
}
