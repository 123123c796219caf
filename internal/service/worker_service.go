package service

import (
	"context"
	"fmt"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/interfaces"
	"gpurelay/pkg/logger"
)

// WorkerService handles worker registration on the coordinator
type WorkerService struct {
	store interfaces.WorkerStore
	cache *RegistryCache
	ttl   time.Duration
}

// NewWorkerService creates a new Worker service
func NewWorkerService(store interfaces.WorkerStore, cache *RegistryCache, ttl time.Duration) *WorkerService {
	return &WorkerService{
		store: store,
		cache: cache,
		ttl:   ttl,
	}
}

// Register upserts the worker and asks the cache to pick it up
func (s *WorkerService) Register(ctx context.Context, req *model.RegisterRequest) (*model.Worker, error) {
	worker := req.ToWorker()
	if err := s.store.Register(ctx, worker, s.ttl); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	s.cache.Invalidate()

	logger.DebugCtx(ctx, "worker registered, worker_id: %s, models: %v", worker.ID, worker.SupportedModels)
	return worker, nil
}

// ListWorkers returns the workers in the current cache snapshot
func (s *WorkerService) ListWorkers(ctx context.Context) []*model.Worker {
	return s.cache.Workers()
}
