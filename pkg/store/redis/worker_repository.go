package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/constants"

	"github.com/go-redis/redis/v8"
)

// WorkerRepository manages worker registrations in Redis (ephemeral data with TTL).
// Liveness is the presence of an unexpired worker:{id} key; there is no delete path.
type WorkerRepository struct {
	redis *redis.Client
}

// NewWorkerRepository creates Worker repository
func NewWorkerRepository(redisClient *RedisClient) *WorkerRepository {
	return &WorkerRepository{
		redis: redisClient.GetClient(),
	}
}

// Register upserts the worker record with a liveness expiry of ttl.
// Repeated calls renew the expiry and keep the original registration time.
func (r *WorkerRepository) Register(ctx context.Context, worker *model.Worker, ttl time.Duration) error {
	if worker.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("registration ttl must be positive")
	}

	now := time.Now().UTC()
	record := worker.Clone()
	record.LastSeen = now
	record.RegisteredAt = now
	if existing, err := r.Get(ctx, worker.ID); err == nil && !existing.RegisteredAt.IsZero() {
		record.RegisteredAt = existing.RegisteredAt
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal worker: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, constants.WorkerKey(worker.ID), data, ttl)
	pipe.SAdd(ctx, constants.WorkerIndexKey, worker.ID)
	pipe.Publish(ctx, constants.RegistryEventsChannel, worker.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}

	return nil
}

// Get retrieves a live worker
func (r *WorkerRepository) Get(ctx context.Context, workerID string) (*model.Worker, error) {
	data, err := r.redis.Get(ctx, constants.WorkerKey(workerID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("worker not found: %s", workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	var worker model.Worker
	if err := json.Unmarshal([]byte(data), &worker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker: %w", err)
	}

	return &worker, nil
}

// ListLive returns every unexpired worker record, read directly from the backend
func (r *WorkerRepository) ListLive(ctx context.Context) ([]*model.Worker, error) {
	workerIDs, err := r.redis.SMembers(ctx, constants.WorkerIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get worker list: %w", err)
	}

	if len(workerIDs) == 0 {
		return []*model.Worker{}, nil
	}

	// Batch fetch all workers in one round-trip
	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(workerIDs))
	for _, workerID := range workerIDs {
		cmds = append(cmds, pipe.Get(ctx, constants.WorkerKey(workerID)))
	}

	// redis.Nil only means some entries expired
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to fetch workers: %w", err)
	}

	workers := make([]*model.Worker, 0, len(workerIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			// Worker expired, skip
			continue
		}

		var worker model.Worker
		if err := json.Unmarshal([]byte(data), &worker); err != nil {
			// Malformed data, skip
			continue
		}
		workers = append(workers, &worker)
	}

	return workers, nil
}

// pruneIndexScript checks and removes in one step so a worker renewing mid-prune stays indexed
var pruneIndexScript = redis.NewScript(`
local removed = 0
for _, id in ipairs(redis.call("smembers", KEYS[1])) do
	if redis.call("exists", ARGV[1] .. id) == 0 then
		redis.call("srem", KEYS[1], id)
		removed = removed + 1
	end
end
return removed
`)

// PruneIndex removes index members whose registration has expired and returns how many were removed.
// The worker queues of expired workers are left untouched.
func (r *WorkerRepository) PruneIndex(ctx context.Context) (int, error) {
	removed, err := pruneIndexScript.Run(ctx, r.redis, []string{constants.WorkerIndexKey}, constants.WorkerKeyPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to prune worker index: %w", err)
	}
	return removed, nil
}

// WatchRegistrations calls onRegister with the worker id of every registration made by any process
// until ctx is done. The subscription reconnects on its own after network errors.
func (r *WorkerRepository) WatchRegistrations(ctx context.Context, onRegister func(workerID string)) error {
	sub := r.redis.Subscribe(ctx, constants.RegistryEventsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to registry events: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("registry event subscription closed")
			}
			onRegister(msg.Payload)
		}
	}
}
