// Package metrics exposes the process Prometheus collectors. Handlers and
// services record into these; cmd/main mounts the scrape endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	CacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_operations_total",
		Help: "Cache lookups by backend and outcome (hit, miss, error).",
	}, []string{"backend", "outcome"})

	LLMCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_call_duration_seconds",
		Help:    "Upstream LLM call latency by operation.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"operation"})

	EmbeddingBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "embedding_batch_duration_seconds",
		Help:    "Latency of one embedding batch round trip.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	EmbeddingBatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_batch_retries_total",
		Help: "Embedding batches that needed a retry.",
	})

	VectorSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vector_search_duration_seconds",
		Help:    "Latency of a chunk similarity search.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	SourcesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sources_processed_total",
		Help: "Source ingestion outcomes.",
	}, []string{"status"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_decisions_total",
		Help: "Rate limiter outcomes (allowed, denied, failopen).",
	}, []string{"outcome"})

	BackgroundTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "background_tasks_total",
		Help: "Background task completions by name and outcome.",
	}, []string{"task", "outcome"})

	BackgroundTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "background_task_duration_seconds",
		Help:    "Background task runtime by name.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
	}, []string{"task"})
)
