package constants

// Queue backend key layout shared by the coordinator and worker agents
const (
	WorkerKeyPrefix       = "worker:"                     // worker:{worker_id} -> Worker JSON, expires with the registry ttl
	WorkerIndexKey        = "workers:active"              // set of registered worker ids, pruned by housekeeping
	WorkerQueuePrefix     = "queue:"                      // queue:{worker_id} -> list of Job JSON (LPUSH / BRPOP)
	ResultKeyPrefix       = "result:"                     // result:{request_id} -> InferenceResult JSON
	DispatchCounter       = "worker_index"                // shared round-robin counter (INCR)
	RegistryEventsChannel = "workers:events"              // pub/sub channel, one message per registration
	PruneLockKey          = "cleanup:registry-index-lock" // housekeeping single-runner lock
)

// WorkerKey returns the registry key of a worker
func WorkerKey(workerID string) string {
	return WorkerKeyPrefix + workerID
}

// WorkerQueue returns the dedicated queue name of a worker
func WorkerQueue(workerID string) string {
	return WorkerQueuePrefix + workerID
}

// ResultKey returns the result key of a request
func ResultKey(requestID string) string {
	return ResultKeyPrefix + requestID
}
