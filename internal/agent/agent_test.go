package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/capability"
	"gpurelay/pkg/config"
	"gpurelay/pkg/constants"
	"gpurelay/pkg/executor"
	"gpurelay/pkg/metrics"
	redisstore "gpurelay/pkg/store/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	mr      *miniredis.Miniredis
	workers *redisstore.WorkerRepository
	queues  *redisstore.QueueRepository
	results *redisstore.ResultRepository
}

func newBackend(t *testing.T) *backend {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rc := redisstore.WrapClient(client)
	return &backend{
		mr:      mr,
		workers: redisstore.NewWorkerRepository(rc),
		queues:  redisstore.NewQueueRepository(rc),
		results: redisstore.NewResultRepository(rc),
	}
}

// scriptedExecutor fails prompts listed in failOn and can block until released
type scriptedExecutor struct {
	failOn  map[string]bool
	release chan struct{}
	calls   atomic.Int32
}

func (e *scriptedExecutor) Execute(ctx context.Context, modelName, prompt string, params model.Params) (*model.InferenceOutput, error) {
	e.calls.Add(1)
	if e.release != nil {
		<-e.release
	}
	if e.failOn[prompt] {
		return nil, errors.New("CUDA out of memory")
	}
	return &model.InferenceOutput{Text: "echo: " + prompt}, nil
}

// countingRegistrar wraps a registrar and can fail a number of calls
type countingRegistrar struct {
	next     Registrar
	calls    atomic.Int32
	failures atomic.Int32
}

func (r *countingRegistrar) Register(ctx context.Context, worker *model.Worker) error {
	r.calls.Add(1)
	if r.failures.Load() > 0 {
		r.failures.Add(-1)
		return errors.New("coordinator unreachable")
	}
	return r.next.Register(ctx, worker)
}

func staticDiscoverer(models ...string) *capability.Static {
	return capability.NewStatic(config.CapabilityConfig{GPUModel: "A10", VRAMGB: 24, SupportedModels: models})
}

func startAgent(t *testing.T, a *Agent) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func waitState(t *testing.T, a *Agent, state constants.AgentState) {
	require.Eventually(t, func() bool { return a.State() == state }, 5*time.Second, 5*time.Millisecond,
		"agent never reached %s", state)
}

func waitStopped(t *testing.T, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
		return nil
	}
}

func TestAgent_ProcessesJobsEndToEnd(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	a := New(Options{WorkerID: "w1", RenewInterval: time.Minute, PollTimeout: time.Second, ResultTTL: time.Hour},
		NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer("m1"),
		executor.NewStaticExecutor("ok", 0), b.queues, b.results)
	assert.Equal(t, constants.AgentStateStarting, a.State())

	cancel, done := startAgent(t, a)
	waitState(t, a, constants.AgentStatePolling)

	registered, err := b.workers.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, registered.SupportedModels)
	assert.Equal(t, "A10", registered.Capabilities["gpu_model"])

	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r1", Model: "m1", Prompt: "p"}))

	require.Eventually(t, func() bool {
		_, err := b.results.Get(ctx, "r1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	result, err := b.results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", result.RequestID)
	assert.Equal(t, map[string]interface{}{"text": "ok"}, result.Result)
	assert.Equal(t, time.Hour, b.mr.TTL(constants.ResultKey("r1")))

	cancel()
	assert.NoError(t, waitStopped(t, done))
	assert.Equal(t, constants.AgentStateStopped, a.State())
}

func TestAgent_FIFOOrder(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []string
	)
	exec := executorFunc(func(ctx context.Context, modelName, prompt string, params model.Params) (*model.InferenceOutput, error) {
		mu.Lock()
		order = append(order, prompt)
		mu.Unlock()
		return &model.InferenceOutput{Text: prompt}, nil
	})

	for _, p := range []string{"first", "second", "third"} {
		require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: p, Model: "m1", Prompt: p}))
	}

	a := New(Options{WorkerID: "w1", RenewInterval: time.Minute, PollTimeout: time.Second},
		NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer("m1"), exec, b.queues, b.results)
	cancel, done := startAgent(t, a)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "third"}, order)

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestAgent_ExecutorFailureDropsJob(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	exec := &scriptedExecutor{failOn: map[string]bool{"bad": true}}

	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r-bad", Model: "m1", Prompt: "bad"}))
	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r-good", Model: "m1", Prompt: "good"}))

	a := New(Options{WorkerID: "w1", RenewInterval: time.Minute, PollTimeout: time.Second},
		NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer("m1"), exec, b.queues, b.results)
	cancel, done := startAgent(t, a)

	require.Eventually(t, func() bool {
		_, err := b.results.Get(ctx, "r-good")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// No result, no requeue
	_, err := b.results.Get(ctx, "r-bad")
	assert.ErrorIs(t, err, redisstore.ErrResultNotFound)
	n, err := b.queues.Length(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, int32(2), exec.calls.Load())

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestAgent_RecordsJobOutcomes(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	exec := &scriptedExecutor{failOn: map[string]bool{"bad": true}}

	require.NoError(t, b.queues.Enqueue(ctx, "outcomes", &model.Job{RequestID: "r-bad", Model: "m1", Prompt: "bad"}))
	require.NoError(t, b.queues.Enqueue(ctx, "outcomes", &model.Job{RequestID: "r-good", Model: "m1", Prompt: "good"}))

	completed := metrics.AgentJobsTotal.WithLabelValues("outcomes", "completed")
	failed := metrics.AgentJobsTotal.WithLabelValues("outcomes", "failed")
	completedBefore, failedBefore := testutil.ToFloat64(completed), testutil.ToFloat64(failed)

	a := New(Options{WorkerID: "outcomes", RenewInterval: time.Minute, PollTimeout: time.Second},
		NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer("m1"), exec, b.queues, b.results)
	cancel, done := startAgent(t, a)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(completed) == completedBefore+1 && testutil.ToFloat64(failed) == failedBefore+1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestAgent_HandleReportsExecutorFailure(t *testing.T) {
	b := newBackend(t)
	exec := &scriptedExecutor{failOn: map[string]bool{"bad": true}}
	a := New(Options{WorkerID: "w1"}, NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer(), exec, b.queues, b.results)

	err := a.handle(context.Background(), &model.Job{RequestID: "r1", Prompt: "bad"})
	assert.ErrorIs(t, err, ErrExecutorFailure)
}

func TestAgent_MalformedJobSkipped(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	_, err := b.mr.Lpush(constants.WorkerQueue("w1"), "{not json")
	require.NoError(t, err)
	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r1", Model: "m1", Prompt: "p"}))

	a := New(Options{WorkerID: "w1", RenewInterval: time.Minute, PollTimeout: time.Second},
		NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer("m1"),
		executor.NewStaticExecutor("ok", 0), b.queues, b.results)
	cancel, done := startAgent(t, a)

	require.Eventually(t, func() bool {
		_, err := b.results.Get(ctx, "r1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestAgent_DrainFinishesInFlightJob(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	exec := &scriptedExecutor{release: make(chan struct{})}

	a := New(Options{WorkerID: "w1", RenewInterval: time.Minute, PollTimeout: time.Second},
		NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer("m1"), exec, b.queues, b.results)
	cancel, done := startAgent(t, a)
	waitState(t, a, constants.AgentStatePolling)

	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r1", Model: "m1", Prompt: "long"}))
	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r2", Model: "m1", Prompt: "next"}))
	waitState(t, a, constants.AgentStateExecuting)

	cancel()
	select {
	case <-done:
		t.Fatal("agent stopped before in-flight job finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(exec.release)
	assert.NoError(t, waitStopped(t, done))

	result, err := b.results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "echo: long", result.Result["text"])

	// No new dequeue after shutdown
	n, err := b.queues.Length(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, constants.AgentStateStopped, a.State())
}

func TestAgent_ConsumesAgainAfterBackendRestart(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	a := New(Options{WorkerID: "w1", RenewInterval: time.Minute, PollTimeout: time.Second, ResultTTL: time.Hour},
		NewStoreRegistrar(b.workers, time.Minute), staticDiscoverer("m1"),
		executor.NewStaticExecutor("ok", 0), b.queues, b.results)
	cancel, done := startAgent(t, a)
	waitState(t, a, constants.AgentStatePolling)

	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r1", Model: "m1", Prompt: "p"}))
	require.Eventually(t, func() bool {
		_, err := b.results.Get(ctx, "r1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// Breaks the agent's blocking connection mid-wait
	b.mr.Close()
	require.NoError(t, b.mr.Restart())

	require.Eventually(t, func() bool {
		return b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r2", Model: "m1", Prompt: "p"}) == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := b.results.Get(ctx, "r2")
		return err == nil
	}, 10*time.Second, 20*time.Millisecond, "job enqueued after the restart was never consumed")

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestAgent_RenewalFailureIsNotFatal(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	reg := &countingRegistrar{next: NewStoreRegistrar(b.workers, time.Minute)}

	a := New(Options{WorkerID: "w1", RenewInterval: 20 * time.Millisecond, PollTimeout: time.Second},
		reg, staticDiscoverer("m1"), executor.NewStaticExecutor("ok", 0), b.queues, b.results)
	cancel, done := startAgent(t, a)
	waitState(t, a, constants.AgentStatePolling)

	reg.failures.Store(2)
	require.Eventually(t, func() bool { return reg.calls.Load() >= 5 }, 5*time.Second, 5*time.Millisecond)

	// Still consuming
	require.NoError(t, b.queues.Enqueue(ctx, "w1", &model.Job{RequestID: "r1", Model: "m1", Prompt: "p"}))
	require.Eventually(t, func() bool {
		_, err := b.results.Get(ctx, "r1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestAgent_InitialRegistrationRetries(t *testing.T) {
	b := newBackend(t)
	reg := &countingRegistrar{next: NewStoreRegistrar(b.workers, time.Minute)}
	reg.failures.Store(2)

	a := New(Options{RenewInterval: time.Minute, PollTimeout: time.Second},
		reg, staticDiscoverer("m1"), executor.NewStaticExecutor("ok", 0), b.queues, b.results)
	assert.NotEmpty(t, a.WorkerID())

	cancel, done := startAgent(t, a)
	waitState(t, a, constants.AgentStatePolling)
	assert.Equal(t, int32(3), reg.calls.Load())
	require.NotNil(t, a.Worker())
	assert.Equal(t, a.WorkerID(), a.Worker().ID)

	cancel()
	assert.NoError(t, waitStopped(t, done))
}

func TestAgent_CancelBeforeRegistration(t *testing.T) {
	b := newBackend(t)
	reg := &countingRegistrar{next: NewStoreRegistrar(b.workers, time.Minute)}
	reg.failures.Store(1 << 20)

	a := New(Options{WorkerID: "w1", RenewInterval: time.Minute, PollTimeout: time.Second},
		reg, staticDiscoverer("m1"), executor.NewStaticExecutor("ok", 0), b.queues, b.results)
	cancel, done := startAgent(t, a)

	require.Eventually(t, func() bool { return reg.calls.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.Error(t, waitStopped(t, done))
	assert.Equal(t, constants.AgentStateStopped, a.State())
}

type executorFunc func(ctx context.Context, modelName, prompt string, params model.Params) (*model.InferenceOutput, error)

func (f executorFunc) Execute(ctx context.Context, modelName, prompt string, params model.Params) (*model.InferenceOutput, error) {
	return f(ctx, modelName, prompt, params)
}
