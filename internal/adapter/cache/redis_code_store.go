package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sachigoyal/echo-auth/internal/repository"
)

const consumedKeyPrefix = "oauth:code:consumed:"

// RedisCodeStore implements CodeConsumer backed by Redis. Entries live
// exactly as long as the code they guard, which bounds retention.
type RedisCodeStore struct {
	client redis.UniversalClient
}

var _ repository.CodeConsumer = (*RedisCodeStore)(nil)

// NewRedisCodeStore constructs a Redis-backed consumed-code store.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

// Consume marks the code spent. SETNX makes the first caller the only winner.
func (s *RedisCodeStore) Consume(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	first, err := s.client.SetNX(ctx, consumedKeyPrefix+code, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume code: %w", err)
	}
	return first, nil
}
