// Package metrics declares the Prometheus collectors exported by the worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ats_sync_api_request_duration_seconds",
			Help:    "Duration of requests against the ATS provider API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sync_api_retries_total",
			Help: "Retried provider requests by reason",
		},
		[]string{"reason"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ats_sync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Sync runs
	SyncItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sync_items_total",
			Help: "Records handled by the sync orchestrator by outcome",
		},
		[]string{"resource", "outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ats_sync_run_duration_seconds",
			Help:    "Duration of one resource sync pass",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"resource", "mode"},
	)

	SyncWatermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ats_sync_watermark_timestamp_seconds",
			Help: "Last persisted watermark per resource as a unix timestamp",
		},
		[]string{"resource"},
	)

	// Jobs and locks
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sync_job_runs_total",
			Help: "Job executions by outcome (ok, error, skipped)",
		},
		[]string{"job", "outcome"},
	)

	LockOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sync_lock_operations_total",
			Help: "Sync lock operations by result",
		},
		[]string{"key", "operation", "result"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sync_events_published_total",
			Help: "Domain events published by type",
		},
		[]string{"type"},
	)
)

// StatusClass groups an HTTP status code into 2xx/4xx/5xx style labels.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ObserveAPIRequest records one provider request.
func ObserveAPIRequest(code int, started time.Time) {
	APIRequestDuration.WithLabelValues(StatusClass(code)).Observe(time.Since(started).Seconds())
}

// RecordSyncItem counts one handled record.
func RecordSyncItem(resource, outcome string) {
	SyncItems.WithLabelValues(resource, outcome).Inc()
}

// RecordSyncRun records the duration of a resource pass.
func RecordSyncRun(resource string, full bool, d time.Duration) {
	mode := "incremental"
	if full {
		mode = "full"
	}
	SyncDuration.WithLabelValues(resource, mode).Observe(d.Seconds())
}

// SetWatermark exports the persisted watermark.
func SetWatermark(resource string, at time.Time) {
	SyncWatermark.WithLabelValues(resource).Set(float64(at.Unix()))
}
