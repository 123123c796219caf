package redis

import (
	"context"
	"fmt"

	"gpurelay/pkg/constants"

	"github.com/go-redis/redis/v8"
)

// DispatchCounter is the shared round-robin counter kept in the backend.
// INCR is atomic on the server, so concurrent coordinators never draw the same value.
type DispatchCounter struct {
	redis *redis.Client
	key   string
}

// NewDispatchCounter creates the backend counter
func NewDispatchCounter(redisClient *RedisClient) *DispatchCounter {
	return &DispatchCounter{
		redis: redisClient.GetClient(),
		key:   constants.DispatchCounter,
	}
}

// Next returns the counter value before the increment (fetch-and-add semantics)
func (c *DispatchCounter) Next(ctx context.Context) (uint64, error) {
	n, err := c.redis.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment dispatch counter: %w", err)
	}
	return uint64(n - 1), nil
}
