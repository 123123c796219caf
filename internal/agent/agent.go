package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/constants"
	"gpurelay/pkg/interfaces"
	"gpurelay/pkg/logger"
	"gpurelay/pkg/metrics"
	redisstore "gpurelay/pkg/store/redis"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrExecutorFailure the executor could not produce a result; the job is dropped
var ErrExecutorFailure = errors.New("executor failure")

const dequeueRetryDelay = time.Second

// Options agent settings
type Options struct {
	WorkerID      string        // generated when empty
	RenewInterval time.Duration // must be shorter than the registry ttl
	PollTimeout   time.Duration // server-side wait per dequeue attempt
	ResultTTL     time.Duration // 0 keeps results without expiry
}

// Agent runs one worker: registers, keeps the registration alive, and executes
// jobs from its own queue one at a time.
type Agent struct {
	opts       Options
	registrar  Registrar
	discoverer interfaces.CapabilityDiscoverer
	executor   interfaces.Executor
	queue      *redisstore.QueueRepository
	results    interfaces.ResultStore

	state  atomic.Value // constants.AgentState
	worker atomic.Pointer[model.Worker]
}

// New creates an agent
func New(opts Options, registrar Registrar, discoverer interfaces.CapabilityDiscoverer,
	executor interfaces.Executor, queue *redisstore.QueueRepository, results interfaces.ResultStore) *Agent {
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.NewString()
	}
	a := &Agent{
		opts:       opts,
		registrar:  registrar,
		discoverer: discoverer,
		executor:   executor,
		queue:      queue,
		results:    results,
	}
	a.setState(constants.AgentStateStarting)
	return a
}

// WorkerID returns the id this agent registers under
func (a *Agent) WorkerID() string {
	return a.opts.WorkerID
}

// State returns the current lifecycle state
func (a *Agent) State() constants.AgentState {
	s, _ := a.state.Load().(constants.AgentState)
	return s
}

// Worker returns the registered worker record, nil before registration
func (a *Agent) Worker() *model.Worker {
	return a.worker.Load()
}

func (a *Agent) setState(s constants.AgentState) {
	a.state.Store(s)
}

// Run drives the agent until ctx is cancelled. A job in flight when ctx is
// cancelled runs to completion and its result is published before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	defer a.setState(constants.AgentStateStopped)

	a.setState(constants.AgentStateStarting)
	caps, models := a.discoverer.Discover(ctx)
	worker := &model.Worker{
		ID:              a.opts.WorkerID,
		Capabilities:    caps,
		SupportedModels: models,
	}

	if err := a.registerInitial(ctx, worker); err != nil {
		return err
	}
	a.worker.Store(worker)
	a.setState(constants.AgentStateRegistered)
	logger.Info("worker registered",
		zap.String("worker_id", worker.ID),
		zap.Strings("supported_models", worker.SupportedModels),
		zap.Any("capabilities", worker.Capabilities),
	)
	if pending, err := a.queue.Length(ctx, worker.ID); err == nil && pending > 0 {
		logger.Info("resuming queued jobs", zap.String("worker_id", worker.ID), zap.Int64("pending", pending))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.renewLoop(ctx, worker)
	}()

	a.consume(ctx)
	wg.Wait()

	logger.Info("worker stopped", zap.String("worker_id", worker.ID))
	return nil
}

// registerInitial retries until the first registration succeeds or ctx is done
func (a *Agent) registerInitial(ctx context.Context, worker *model.Worker) error {
	operation := func() (struct{}, error) {
		if err := a.registrar.Register(ctx, worker); err != nil {
			logger.Warn("initial registration failed, retrying", zap.String("worker_id", worker.ID), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0)); err != nil {
		return fmt.Errorf("failed to register worker %s: %w", worker.ID, err)
	}
	return nil
}

func (a *Agent) renewLoop(ctx context.Context, worker *model.Worker) {
	interval := a.opts.RenewInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.registrar.Register(ctx, worker); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.AgentRenewalsTotal.WithLabelValues(worker.ID, "error").Inc()
				logger.Warn("registration renewal failed, retrying next tick",
					zap.String("worker_id", worker.ID), zap.Error(err))
				continue
			}
			metrics.AgentRenewalsTotal.WithLabelValues(worker.ID, "success").Inc()
		}
	}
}

// consume is the single sequential poll/execute loop
func (a *Agent) consume(ctx context.Context) {
	consumer := a.queue.NewConsumer(ctx, a.opts.WorkerID, a.opts.PollTimeout)
	defer consumer.Close()

	for {
		a.setState(constants.AgentStatePolling)
		job, err := consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.setState(constants.AgentStateDraining)
				return
			}
			if errors.Is(err, redisstore.ErrMalformedJob) {
				metrics.AgentJobsTotal.WithLabelValues(a.opts.WorkerID, "malformed").Inc()
				logger.Error("dropping malformed job", zap.String("worker_id", a.opts.WorkerID), zap.Error(err))
				continue
			}
			logger.Error("dequeue failed, reconnecting", zap.String("worker_id", a.opts.WorkerID), zap.Error(err))
			select {
			case <-ctx.Done():
				a.setState(constants.AgentStateDraining)
				return
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}

		a.setState(constants.AgentStateExecuting)
		// In-flight work outlives shutdown
		a.recordOutcome(a.handle(context.WithoutCancel(ctx), job))

		if ctx.Err() != nil {
			a.setState(constants.AgentStateDraining)
			return
		}
	}
}

// handle executes one job and publishes its result. Executor failures drop the job.
func (a *Agent) handle(ctx context.Context, job *model.Job) error {
	ctx = logger.WithTraceID(ctx, job.RequestID)
	logger.InfoCtx(ctx, "executing job, model: %s", job.Model)

	start := time.Now()
	out, err := a.executor.Execute(ctx, job.Model, job.Prompt, job.Params)
	metrics.AgentJobDuration.WithLabelValues(job.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.ErrorCtx(ctx, "job dropped after executor failure: %v", err)
		return fmt.Errorf("%w: %w", ErrExecutorFailure, err)
	}

	result := &model.InferenceResult{
		RequestID: job.RequestID,
		Result:    out.ToMap(),
	}
	if err := a.results.Save(ctx, result, a.opts.ResultTTL); err != nil {
		logger.ErrorCtx(ctx, "failed to publish result: %v", err)
		return err
	}

	logger.InfoCtx(ctx, "job completed in %v", time.Since(start))
	return nil
}

func (a *Agent) recordOutcome(err error) {
	outcome := "completed"
	switch {
	case errors.Is(err, ErrExecutorFailure):
		outcome = "failed"
	case err != nil:
		outcome = "publish_failed"
	}
	metrics.AgentJobsTotal.WithLabelValues(a.opts.WorkerID, outcome).Inc()
}
