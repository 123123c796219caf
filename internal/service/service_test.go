package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"gpurelay/internal/model"
	redisstore "gpurelay/pkg/store/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type testBackend struct {
	mr      *miniredis.Miniredis
	workers *redisstore.WorkerRepository
	queues  *redisstore.QueueRepository
	results *redisstore.ResultRepository
	counter *redisstore.DispatchCounter
}

func newTestBackend(t *testing.T) *testBackend {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rc := redisstore.WrapClient(client)
	return &testBackend{
		mr:      mr,
		workers: redisstore.NewWorkerRepository(rc),
		queues:  redisstore.NewQueueRepository(rc),
		results: redisstore.NewResultRepository(rc),
		counter: redisstore.NewDispatchCounter(rc),
	}
}

// fakeWorkerStore serves a fixed worker list and can be switched into failure mode
type fakeWorkerStore struct {
	mu      sync.Mutex
	workers []*model.Worker
	err     error
	lists   int
}

func (f *fakeWorkerStore) Register(ctx context.Context, worker *model.Worker, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.workers = append(f.workers, worker)
	return nil
}

func (f *fakeWorkerStore) ListLive(ctx context.Context) ([]*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.err != nil {
		return nil, f.err
	}
	return append([]*model.Worker(nil), f.workers...), nil
}

func (f *fakeWorkerStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type enqueued struct {
	workerID string
	job      *model.Job
}

// recordingQueue collects enqueued jobs in memory
type recordingQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, workerID string, job *model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, enqueued{workerID: workerID, job: job})
	return nil
}

func (q *recordingQueue) countByWorker() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range q.jobs {
		counts[e.workerID]++
	}
	return counts
}

type failingCounter struct{}

func (failingCounter) Next(ctx context.Context) (uint64, error) {
	return 0, errors.New("connection refused")
}

// staticSource is a WorkerSource over a fixed list
type staticSource []*model.Worker

func (s staticSource) CompatibleWorkers(modelName string) []*model.Worker {
	var out []*model.Worker
	for _, w := range s {
		if slices.Contains(w.SupportedModels, modelName) {
			out = append(out, w)
		}
	}
	return out
}

func makeWorkers(n int, models ...string) []*model.Worker {
	workers := make([]*model.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, &model.Worker{
			ID:              fmt.Sprintf("w-%d", i),
			SupportedModels: append([]string(nil), models...),
		})
	}
	return workers
}
