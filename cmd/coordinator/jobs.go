package main

import (
	"context"
	"fmt"
	"time"

	"gpurelay/internal/jobs"
	"gpurelay/internal/service"
	"gpurelay/pkg/constants"
	"gpurelay/pkg/lock"
	"gpurelay/pkg/logger"
	"gpurelay/pkg/metrics"
	redisstore "gpurelay/pkg/store/redis"
)

// initJobs initializes background tasks
func (app *Application) initJobs() error {
	app.jobsManager = jobs.NewManager(app.ctx)

	// Registry cache refresh, woken early by registrations
	app.jobsManager.Register(app.registryCache)

	if app.config.Housekeeping.Enabled {
		pruneLock := lock.NewRedisDistributedLock(app.redisClient.GetClient(), constants.PruneLockKey)
		app.jobsManager.Register(&registryPruneJob{
			repo:     app.workerRepo,
			lock:     pruneLock,
			interval: app.config.Housekeeping.PruneInterval,
		})
	}

	return nil
}

// registryPruneJob removes expired worker ids from the registry index.
// Only one coordinator replica prunes per tick.
type registryPruneJob struct {
	repo     *redisstore.WorkerRepository
	lock     lock.DistributedLock
	interval time.Duration
}

func (j *registryPruneJob) Name() string            { return "registry-index-prune" }
func (j *registryPruneJob) Interval() time.Duration { return j.interval }

func (j *registryPruneJob) Run(ctx context.Context) error {
	acquired, err := j.lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire registry prune lock: %w", err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "Another replica is pruning the registry index, skipping")
		return nil
	}
	defer j.lock.Unlock(ctx)

	removed, err := j.repo.PruneIndex(ctx)
	if err != nil {
		return err
	}
	if !j.lock.IsHeld() {
		logger.WarnCtx(ctx, "Registry prune lock was lost before the prune finished")
	}
	if removed > 0 {
		metrics.RegistryPrunedTotal.Add(float64(removed))
		logger.InfoCtx(ctx, "Pruned %d expired workers from the registry index", removed)
	}
	return nil
}

const registryWatchRetryDelay = 2 * time.Second

// watchRegistrations wakes the registry cache on every registration, whichever process or replica made it.
// It resubscribes after failures until ctx is done.
func watchRegistrations(ctx context.Context, repo *redisstore.WorkerRepository, cache *service.RegistryCache) {
	for {
		err := repo.WatchRegistrations(ctx, func(workerID string) {
			logger.DebugCtx(ctx, "Registration event for worker %s, refreshing registry cache", workerID)
			cache.Invalidate()
		})
		if ctx.Err() != nil {
			return
		}
		logger.WarnCtx(ctx, "Registry event subscription failed, retrying in %v: %v", registryWatchRetryDelay, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(registryWatchRetryDelay):
		}
	}
}
