// Package metrics holds the Prometheus collectors for memlayer. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the service.
type Metrics struct {
	// Document store
	DeltasApplied    prometheus.Counter
	VersionConflicts prometheus.Counter
	InvalidDeltas    prometheus.Counter

	// Slice cache, labelled by result: hit, miss or error
	SliceCacheLookups *prometheus.CounterVec

	// Scheduler
	ScheduleRequests   *prometheus.CounterVec
	ScheduleLatency    prometheus.Histogram
	ScheduledTokens    prometheus.Histogram
	AccessJobsDropped  prometheus.Counter
	AccessJobsFinished *prometheus.CounterVec

	// Lifecycle
	LifecycleTransitions *prometheus.CounterVec
	SweepErrors          prometheus.Counter
	SweepDuration        prometheus.Histogram

	// Record store
	RecordWrites *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DeltasApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "memlayer_state_deltas_applied_total",
			Help: "Total number of delta lists committed as new document versions",
		}),
		VersionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "memlayer_state_version_conflicts_total",
			Help: "Total number of delta writes rejected with a version conflict",
		}),
		InvalidDeltas: f.NewCounter(prometheus.CounterOpts{
			Name: "memlayer_state_invalid_deltas_total",
			Help: "Total number of delta lists rejected as invalid",
		}),
		SliceCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memlayer_slice_cache_lookups_total",
			Help: "Slice cache lookups by result",
		}, []string{"result"}),
		ScheduleRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memlayer_schedule_requests_total",
			Help: "Schedule requests by source: computed or cached",
		}, []string{"source"}),
		ScheduleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "memlayer_schedule_duration_seconds",
			Help:    "Time spent computing a schedule",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ScheduledTokens: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "memlayer_schedule_tokens",
			Help:    "Total tokens returned per schedule",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
		AccessJobsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "memlayer_access_jobs_dropped_total",
			Help: "Access recording jobs dropped because the queue was full",
		}),
		AccessJobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memlayer_worker_jobs_total",
			Help: "Background jobs finished by kind and outcome",
		}, []string{"kind", "outcome"}),
		LifecycleTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memlayer_lifecycle_transitions_total",
			Help: "Lifecycle transitions applied by target state",
		}, []string{"to"}),
		SweepErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "memlayer_lifecycle_sweep_errors_total",
			Help: "Records that failed during a lifecycle sweep",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "memlayer_lifecycle_sweep_duration_seconds",
			Help:    "Duration of lifecycle sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		RecordWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memlayer_record_writes_total",
			Help: "Memory record writes by action and storage mode",
		}, []string{"action", "storage_mode"}),
	}
}

func (m *Metrics) DeltaApplied() {
	if m != nil {
		m.DeltasApplied.Inc()
	}
}

func (m *Metrics) Conflict() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}

func (m *Metrics) InvalidDelta() {
	if m != nil {
		m.InvalidDeltas.Inc()
	}
}

// CacheLookup records a slice cache result: "hit", "miss" or "error".
func (m *Metrics) CacheLookup(result string) {
	if m != nil {
		m.SliceCacheLookups.WithLabelValues(result).Inc()
	}
}

// Scheduled records a schedule served from source "computed" or "cached".
func (m *Metrics) Scheduled(source string, took time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.ScheduleRequests.WithLabelValues(source).Inc()
	if source == "computed" {
		m.ScheduleLatency.Observe(took.Seconds())
	}
	m.ScheduledTokens.Observe(float64(tokens))
}

func (m *Metrics) AccessDropped() {
	if m != nil {
		m.AccessJobsDropped.Inc()
	}
}

// JobFinished records a background job outcome.
func (m *Metrics) JobFinished(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AccessJobsFinished.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Transition(to string) {
	if m != nil {
		m.LifecycleTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) SweepError() {
	if m != nil {
		m.SweepErrors.Inc()
	}
}

func (m *Metrics) Swept(took time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) RecordWrite(action, mode string) {
	if m != nil {
		m.RecordWrites.WithLabelValues(action, mode).Inc()
	}
}
