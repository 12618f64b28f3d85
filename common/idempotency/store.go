// Package idempotency provides the inbox used by every event consumer to
// detect and skip a duplicate eventId, and the saga driver to detect a
// duplicate order request within its window.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the consumer-side inbox contract.
type Store interface {
	// Reserve marks a key as processed. Returns false if it was already
	// reserved by a prior call (duplicate).
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IsProcessed reports whether key has already been reserved.
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Release clears a key, e.g. after a compensating rollback.
	Release(ctx context.Context, key string) error
}

// RedisStore is a Redis-backed inbox, namespaced per consumer group so two
// services never collide on the same eventId.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed inbox under the given prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.fullKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.fullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}
