package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gpurelay"

var (
	// HTTPRequestsTotal counts handled HTTP requests by route, method and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of http requests handled by the coordinator.",
		},
		[]string{"path", "method", "code"},
	)

	// HTTPRequestDuration request latency by route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// DispatchTotal dispatch attempts by model and outcome (queued, no_worker, error)
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Inference dispatch attempts.",
		},
		[]string{"model", "result"},
	)

	// CacheRefreshTotal registry cache refreshes by outcome (success, error)
	CacheRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_cache_refresh_total",
			Help:      "Registry cache refresh attempts.",
		},
		[]string{"result"},
	)

	// CacheWorkers number of workers in the current cache snapshot
	CacheWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_cache_workers",
			Help:      "Workers in the current registry cache snapshot.",
		},
	)

	// AgentJobsTotal jobs handled by a worker agent by outcome (completed, failed, malformed)
	AgentJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_jobs_total",
			Help:      "Jobs handled by the worker agent.",
		},
		[]string{"worker_id", "result"},
	)

	// AgentJobDuration executor latency per model
	AgentJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_job_duration_seconds",
			Help:      "Time spent executing jobs.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model"},
	)

	// AgentRenewalsTotal registration renewals by outcome
	AgentRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_registration_renewals_total",
			Help:      "Worker registration renewals.",
		},
		[]string{"worker_id", "result"},
	)

	// RegistryPrunedTotal stale index entries removed by housekeeping
	RegistryPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_pruned_total",
			Help:      "Expired workers removed from the registry index.",
		},
	)
)
