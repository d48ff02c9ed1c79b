// Package metrics provides Prometheus collectors for catalog validation.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ValidationMetrics contains all Prometheus metrics related to record validation.
type ValidationMetrics struct {
	// Job queue
	JobsTotal        *prometheus.CounterVec
	JobAttempts      *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	JobsProcessing   prometheus.Gauge
	JobsPending      prometheus.Gauge
	ProviderErrors   *prometheus.CounterVec

	// Catalog runs
	RunsTotal      *prometheus.CounterVec
	BatchesTotal   *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	RecordsUpdated prometheus.Counter
	RunActive      prometheus.Gauge
}

// NewValidationMetrics creates the collectors and registers them with registry.
func NewValidationMetrics(registry prometheus.Registerer) (*ValidationMetrics, error) {
	m := &ValidationMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register validation metrics: %w", err)
	}
	return m, nil
}

func (m *ValidationMetrics) initMetrics() {
	m.JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelcatalog_validation_jobs_total",
			Help: "Validation jobs reaching a terminal state, partitioned by status.",
		},
		[]string{"status"},
	)
	m.JobAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelcatalog_validation_job_attempts_total",
			Help: "Enrichment attempts started, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelcatalog_validation_job_attempt_duration_seconds",
			Help:    "Time taken by a single enrichment attempt.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"outcome"},
	)
	m.JobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelcatalog_validation_jobs_processing",
			Help: "Validation jobs currently in flight.",
		},
	)
	m.JobsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelcatalog_validation_jobs_pending",
			Help: "Validation jobs waiting for a free slot.",
		},
	)
	m.ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelcatalog_provider_errors_total",
			Help: "Terminal provider failures, partitioned by error kind.",
		},
		[]string{"kind"},
	)

	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelcatalog_catalog_validation_runs_total",
			Help: "Whole-catalog validation runs, partitioned by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	m.BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelcatalog_catalog_validation_batches_total",
			Help: "Batches processed during catalog validation, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
	m.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modelcatalog_catalog_validation_duration_seconds",
			Help:    "Wall time of a catalog validation run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
		},
	)
	m.RecordsUpdated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelcatalog_catalog_records_updated_total",
			Help: "Records changed by catalog validation.",
		},
	)
	m.RunActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelcatalog_catalog_validation_active",
			Help: "1 while a catalog validation run is in progress.",
		},
	)
}

// RecordAttempt counts one finished enrichment attempt.
func (m *ValidationMetrics) RecordAttempt(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobAttempts.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordJobFinished counts a job reaching a terminal status.
// errorKind is empty for completed jobs.
func (m *ValidationMetrics) RecordJobFinished(status, errorKind string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
	if errorKind != "" {
		m.ProviderErrors.WithLabelValues(errorKind).Inc()
	}
}

// SetQueueDepth updates the pending and processing gauges.
func (m *ValidationMetrics) SetQueueDepth(pending, processing int) {
	if m == nil {
		return
	}
	m.JobsPending.Set(float64(pending))
	m.JobsProcessing.Set(float64(processing))
}

// RecordBatch counts one processed batch.
func (m *ValidationMetrics) RecordBatch(outcome string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
}

// RecordRun counts a finished catalog run.
func (m *ValidationMetrics) RecordRun(mode, outcome string, durationSeconds float64, updated int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, outcome).Inc()
	m.RunDuration.Observe(durationSeconds)
	m.RecordsUpdated.Add(float64(updated))
}

// SetRunActive toggles the active-run gauge.
func (m *ValidationMetrics) SetRunActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.RunActive.Set(1)
	} else {
		m.RunActive.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ValidationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.JobsTotal.Describe(ch)
	m.JobAttempts.Describe(ch)
	m.JobDuration.Describe(ch)
	ch <- m.JobsProcessing.Desc()
	ch <- m.JobsPending.Desc()
	m.ProviderErrors.Describe(ch)

	m.RunsTotal.Describe(ch)
	m.BatchesTotal.Describe(ch)
	ch <- m.RunDuration.Desc()
	ch <- m.RecordsUpdated.Desc()
	ch <- m.RunActive.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ValidationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.JobsTotal.Collect(ch)
	m.JobAttempts.Collect(ch)
	m.JobDuration.Collect(ch)
	ch <- m.JobsProcessing
	ch <- m.JobsPending
	m.ProviderErrors.Collect(ch)

	m.RunsTotal.Collect(ch)
	m.BatchesTotal.Collect(ch)
	ch <- m.RunDuration
	ch <- m.RecordsUpdated
	ch <- m.RunActive
}
