package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"gpurelay/internal/model"
	"gpurelay/pkg/interfaces"
	"gpurelay/pkg/logger"
	"gpurelay/pkg/metrics"

	"github.com/google/uuid"
)

// WorkerSource read side of the registry cache used on the dispatch path
type WorkerSource interface {
	CompatibleWorkers(modelName string) []*model.Worker
}

// LocalCounter in-process round-robin counter for single-coordinator deployments
type LocalCounter struct {
	n atomic.Uint64
}

// Next returns the value before the increment
func (c *LocalCounter) Next(ctx context.Context) (uint64, error) {
	return c.n.Add(1) - 1, nil
}

// Dispatcher selects a worker for each inference request and enqueues the job on its queue.
// One counter is shared by every model, so rotation is fair across dispatch calls, not per model.
type Dispatcher struct {
	workers WorkerSource
	queue   interfaces.JobQueue
	counter interfaces.Counter
}

// NewDispatcher creates a dispatcher
func NewDispatcher(workers WorkerSource, queue interfaces.JobQueue, counter interfaces.Counter) *Dispatcher {
	return &Dispatcher{
		workers: workers,
		queue:   queue,
		counter: counter,
	}
}

// Dispatch enqueues the request for a compatible worker and returns its request id without waiting for execution
func (d *Dispatcher) Dispatch(ctx context.Context, req *model.InferenceRequest) (string, error) {
	candidates := d.workers.CompatibleWorkers(req.Model)
	if len(candidates) == 0 {
		metrics.DispatchTotal.WithLabelValues(req.Model, "no_worker").Inc()
		return "", fmt.Errorf("%w: %s", ErrNoCompatibleWorker, req.Model)
	}

	n, err := d.counter.Next(ctx)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(req.Model, "error").Inc()
		return "", fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	target := candidates[n%uint64(len(candidates))]

	requestID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, requestID)

	job := &model.Job{
		RequestID: requestID,
		Model:     req.Model,
		Prompt:    req.Prompt,
		Params:    req.Params,
	}
	if err := d.queue.Enqueue(ctx, target.ID, job); err != nil {
		metrics.DispatchTotal.WithLabelValues(req.Model, "error").Inc()
		logger.ErrorCtx(ctx, "failed to enqueue job for worker %s: %v", target.ID, err)
		return "", fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	metrics.DispatchTotal.WithLabelValues(req.Model, "queued").Inc()
	logger.InfoCtx(ctx, "job dispatched, model: %s, worker_id: %s, candidates: %d", req.Model, target.ID, len(candidates))
	return requestID, nil
}
