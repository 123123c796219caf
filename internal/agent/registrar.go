package agent

import (
	"context"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/client"
	"gpurelay/pkg/interfaces"
)

// Registrar announces the worker to the registry
type Registrar interface {
	Register(ctx context.Context, worker *model.Worker) error
}

// HTTPRegistrar registers through the coordinator API, which also wakes the coordinator's cache
type HTTPRegistrar struct {
	client *client.Client
}

// NewHTTPRegistrar creates a registrar posting to the coordinator
func NewHTTPRegistrar(c *client.Client) *HTTPRegistrar {
	return &HTTPRegistrar{client: c}
}

// Register posts the worker record to /register
func (r *HTTPRegistrar) Register(ctx context.Context, worker *model.Worker) error {
	_, err := r.client.Register(ctx, &model.RegisterRequest{
		WorkerID:        worker.ID,
		Capabilities:    worker.Capabilities,
		SupportedModels: worker.SupportedModels,
	})
	return err
}

// StoreRegistrar writes the registration straight to the backend.
// Coordinators see it on their next periodic refresh.
type StoreRegistrar struct {
	store interfaces.WorkerStore
	ttl   time.Duration
}

// NewStoreRegistrar creates a registrar backed by the worker store
func NewStoreRegistrar(store interfaces.WorkerStore, ttl time.Duration) *StoreRegistrar {
	return &StoreRegistrar{store: store, ttl: ttl}
}

// Register upserts the worker with the configured ttl
func (r *StoreRegistrar) Register(ctx context.Context, worker *model.Worker) error {
	return r.store.Register(ctx, worker, r.ttl)
}
