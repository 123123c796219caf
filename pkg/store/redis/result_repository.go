package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/constants"

	"github.com/go-redis/redis/v8"
)

// ErrResultNotFound is returned when no result has been published for a request
var ErrResultNotFound = errors.New("result not found")

// ResultRepository stores inference results under result:{request_id}
type ResultRepository struct {
	redis *redis.Client
}

// NewResultRepository creates result repository
func NewResultRepository(redisClient *RedisClient) *ResultRepository {
	return &ResultRepository{
		redis: redisClient.GetClient(),
	}
}

// Save publishes a result; ttl 0 keeps it without expiry
func (r *ResultRepository) Save(ctx context.Context, result *model.InferenceResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := r.redis.Set(ctx, constants.ResultKey(result.RequestID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// Get retrieves the result of a request
func (r *ResultRepository) Get(ctx context.Context, requestID string) (*model.InferenceResult, error) {
	data, err := r.redis.Get(ctx, constants.ResultKey(requestID)).Result()
	if err == redis.Nil {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result model.InferenceResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}
