package interfaces

import (
	"context"
	"time"

	"gpurelay/internal/model"
)

// WorkerStore backend registry of worker registrations
type WorkerStore interface {
	// Register upserts the worker with a liveness expiry of ttl
	Register(ctx context.Context, worker *model.Worker, ttl time.Duration) error

	// ListLive returns every unexpired worker, read from the backend
	ListLive(ctx context.Context) ([]*model.Worker, error)
}

// CapabilityDiscoverer reports what a worker host can run.
// Discover never fails: on error it returns empty capabilities and no supported models.
type CapabilityDiscoverer interface {
	Discover(ctx context.Context) (model.Capabilities, []string)
}
