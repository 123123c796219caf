package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/constants"

	"github.com/go-redis/redis/v8"
)

// ErrMalformedJob is returned when a queue entry cannot be decoded as a job
var ErrMalformedJob = errors.New("malformed job payload")

// QueueRepository manages the per-worker job queues.
// Producers push to the head (LPUSH), consumers pop from the tail (BRPOP): FIFO per worker.
type QueueRepository struct {
	redis *redis.Client
}

// NewQueueRepository creates queue repository
func NewQueueRepository(redisClient *RedisClient) *QueueRepository {
	return &QueueRepository{
		redis: redisClient.GetClient(),
	}
}

// Enqueue appends a job to the worker's dedicated queue
func (r *QueueRepository) Enqueue(ctx context.Context, workerID string, job *model.Job) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := r.redis.LPush(ctx, constants.WorkerQueue(workerID), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Length returns the number of jobs waiting in a worker queue
func (r *QueueRepository) Length(ctx context.Context, workerID string) (int64, error) {
	n, err := r.redis.LLen(ctx, constants.WorkerQueue(workerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

// Consumer is a blocking reader of one worker queue bound to a dedicated connection.
// Close must be called on every exit path to hand the connection back.
type Consumer struct {
	client      *redis.Client
	conn        *redis.Conn
	queue       string
	pollTimeout time.Duration
}

// NewConsumer acquires a dedicated connection for consuming workerID's queue.
// pollTimeout bounds each server-side wait so cancellation is observed between waits.
func (r *QueueRepository) NewConsumer(ctx context.Context, workerID string, pollTimeout time.Duration) *Consumer {
	if pollTimeout < time.Second {
		pollTimeout = time.Second
	}
	return &Consumer{
		client:      r.redis,
		conn:        r.redis.Conn(ctx),
		queue:       constants.WorkerQueue(workerID),
		pollTimeout: pollTimeout,
	}
}

// Dequeue blocks until a job arrives or ctx is cancelled.
// A payload that cannot be decoded is consumed and reported as ErrMalformedJob.
func (c *Consumer) Dequeue(ctx context.Context) (*model.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := c.conn.BRPop(ctx, c.pollTimeout, c.queue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// A failed dedicated connection stays unusable; the next call starts on a fresh one
			c.reconnect(ctx)
			return nil, fmt.Errorf("failed to dequeue job: %w", err)
		}

		// res[0] is the list name, res[1] the payload
		var job model.Job
		if err := job.FromJSON([]byte(res[1])); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
		}
		return &job, nil
	}
}

// reconnect swaps the dedicated connection for a new one from the pool.
// The new connection is dialled lazily by the next command.
func (c *Consumer) reconnect(ctx context.Context) {
	_ = c.conn.Close()
	c.conn = c.client.Conn(ctx)
}

// Close releases the dedicated connection
func (c *Consumer) Close() error {
	return c.conn.Close()
}
