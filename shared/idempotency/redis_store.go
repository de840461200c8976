package idempotency

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore claims keys with SETNX so deduplication holds across processes
// delivering the same message concurrently.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store; ttl bounds how long a claim
// suppresses duplicates.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Claim implements Store
func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	claimed, err := s.client.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to claim idempotency key")
	}
	return claimed, nil
}
