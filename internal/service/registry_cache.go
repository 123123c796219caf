package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/interfaces"
	"gpurelay/pkg/logger"
	"gpurelay/pkg/metrics"
)

// registrySnapshot is immutable once published
type registrySnapshot struct {
	workers     []*model.Worker
	byModel     map[string][]*model.Worker
	refreshedAt time.Time
}

func buildSnapshot(workers []*model.Worker) *registrySnapshot {
	snap := &registrySnapshot{
		workers:     make([]*model.Worker, 0, len(workers)),
		byModel:     make(map[string][]*model.Worker),
		refreshedAt: time.Now(),
	}
	seen := make(map[string]bool, len(workers))
	for _, w := range workers {
		if w == nil || seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		c := w.Clone()
		snap.workers = append(snap.workers, c)
		for _, m := range c.SupportedModels {
			if snap.byModel[m] != nil && snap.byModel[m][len(snap.byModel[m])-1].ID == c.ID {
				continue
			}
			snap.byModel[m] = append(snap.byModel[m], c)
		}
	}
	return snap
}

// RegistryCache serves compatible-worker lookups from an in-memory snapshot.
// Refresh builds a new snapshot and swaps it in by pointer, so readers take no lock.
type RegistryCache struct {
	store    interfaces.WorkerStore
	interval time.Duration
	current  atomic.Pointer[registrySnapshot]
	wake     chan struct{}
}

// NewRegistryCache creates an empty cache over store
func NewRegistryCache(store interfaces.WorkerStore, interval time.Duration) *RegistryCache {
	c := &RegistryCache{
		store:    store,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
	c.current.Store(buildSnapshot(nil))
	return c
}

// CompatibleWorkers returns the cached workers supporting modelName. The slice is shared and must not be modified.
func (c *RegistryCache) CompatibleWorkers(modelName string) []*model.Worker {
	return c.current.Load().byModel[modelName]
}

// Workers returns every cached worker. The slice is shared and must not be modified.
func (c *RegistryCache) Workers() []*model.Worker {
	return c.current.Load().workers
}

// LastRefresh returns when the current snapshot was built
func (c *RegistryCache) LastRefresh() time.Time {
	return c.current.Load().refreshedAt
}

// Invalidate requests a refresh ahead of schedule.
// Requests made before the pending one is consumed collapse into it.
func (c *RegistryCache) Invalidate() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Refresh reloads the snapshot from the backend. On failure the previous snapshot stays in place.
func (c *RegistryCache) Refresh(ctx context.Context) error {
	workers, err := c.store.ListLive(ctx)
	if err != nil {
		metrics.CacheRefreshTotal.WithLabelValues("error").Inc()
		logger.WarnCtx(ctx, "registry cache refresh failed, keeping %d cached workers from %s: %v",
			len(c.Workers()), c.LastRefresh().Format(time.RFC3339), err)
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	snap := buildSnapshot(workers)
	c.current.Store(snap)

	metrics.CacheRefreshTotal.WithLabelValues("success").Inc()
	metrics.CacheWorkers.Set(float64(len(snap.workers)))
	logger.DebugCtx(ctx, "registry cache refreshed, workers: %d, models: %d", len(snap.workers), len(snap.byModel))
	return nil
}

// Name implements jobs.Job
func (c *RegistryCache) Name() string {
	return "registry-cache-refresh"
}

// Interval implements jobs.Job
func (c *RegistryCache) Interval() time.Duration {
	return c.interval
}

// Run implements jobs.Job
func (c *RegistryCache) Run(ctx context.Context) error {
	return c.Refresh(ctx)
}

// Trigger implements jobs.TriggeredJob
func (c *RegistryCache) Trigger() <-chan struct{} {
	return c.wake
}
