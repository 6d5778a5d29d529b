// Package metrics provides Prometheus metrics for monitoring caches, fetches,
// advice generation and tracked tasks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callscope_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier", "kind"},
	)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callscope_cache_misses_total",
			Help: "Total number of cache misses that triggered a fetch",
		},
		[]string{"kind"},
	)
	CacheStorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callscope_cache_storage_errors_total",
			Help: "Total number of persistent tier failures",
		},
		[]string{"operation"},
	)
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callscope_fetch_duration_seconds",
			Help:    "Duration of calls to the CRM gateway",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)
	AdvicesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callscope_advices_emitted_total",
			Help: "Total number of advices emitted by priority",
		},
		[]string{"priority"},
	)
	AnalyzerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callscope_analyzer_runs_total",
			Help: "Total number of analyzer runs by outcome",
		},
		[]string{"analyzer", "outcome"},
	)
	AnalyzerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callscope_analyzer_duration_seconds",
			Help:    "Analyzer execution duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30},
		},
		[]string{"analyzer"},
	)
	TrackerTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callscope_tracker_tasks_total",
			Help: "Total number of tracked tasks by final state",
		},
		[]string{"mode", "state"},
	)
	TrackerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callscope_tracker_active_tasks",
			Help: "Number of currently running tracked tasks",
		},
	)
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callscope_cache_entries",
			Help: "Number of entries in the in-memory cache tier",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callscope_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callscope_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordCacheHit(tier, kind string) {
	CacheHits.WithLabelValues(tier, kind).Inc()
}

func RecordCacheMiss(kind string) {
	CacheMisses.WithLabelValues(kind).Inc()
}

func RecordStorageError(operation string) {
	CacheStorageErrors.WithLabelValues(operation).Inc()
}

func RecordFetch(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	FetchDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

func RecordAdvice(priority string) {
	AdvicesEmitted.WithLabelValues(priority).Inc()
}

func RecordAnalyzerRun(analyzer, outcome string, duration time.Duration) {
	AnalyzerRuns.WithLabelValues(analyzer, outcome).Inc()
	AnalyzerDuration.WithLabelValues(analyzer).Observe(duration.Seconds())
}

func RecordTrackerTask(mode, state string) {
	TrackerTasks.WithLabelValues(mode, state).Inc()
}

func UpdateActiveTasks(count int) {
	TrackerActive.Set(float64(count))
}

func UpdateCacheEntries(count int) {
	CacheEntries.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
