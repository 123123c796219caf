package interfaces

import (
	"context"
	"time"

	"gpurelay/internal/model"
)

// JobQueue producer side of the per-worker job queues
type JobQueue interface {
	Enqueue(ctx context.Context, workerID string, job *model.Job) error
}

// ResultStore result publication and lookup keyed by request id
type ResultStore interface {
	// Save publishes a result; ttl 0 keeps it without expiry
	Save(ctx context.Context, result *model.InferenceResult, ttl time.Duration) error

	// Get returns the result or an error wrapping the store's not-found sentinel
	Get(ctx context.Context, requestID string) (*model.InferenceResult, error)
}

// Counter shared round-robin counter with fetch-and-add semantics
type Counter interface {
	Next(ctx context.Context) (uint64, error)
}
