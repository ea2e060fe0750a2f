// Package metrics exposes Prometheus instrumentation for the batch engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brandscope_jobs_created_total",
		Help: "Batch jobs created by fan-out.",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brandscope_jobs_finished_total",
		Help: "Batch jobs reaching a terminal status.",
	}, []string{"status"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brandscope_tasks_processed_total",
		Help: "Tasks reaching a terminal status, by provider.",
	}, []string{"provider", "status"})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brandscope_provider_call_duration_seconds",
		Help:    "Wall-clock duration of provider API calls, including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	BreakerTripped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brandscope_breaker_tripped_total",
		Help: "Prompts whose circuit breaker opened.",
	})

	ReconcilerFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brandscope_reconciler_finalized_total",
		Help: "Stale jobs finalized by the reconciler without re-running the executor.",
	})

	ReconcilerResumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brandscope_reconciler_resumed_total",
		Help: "Stale jobs resumed by the reconciler.",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
