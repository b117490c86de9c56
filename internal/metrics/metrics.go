// Package metrics exposes Prometheus collectors for the clip pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storyclip"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted  *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	JobsInProgress prometheus.Gauge
	JobDuration    *prometheus.HistogramVec
	JobRetries     prometheus.Counter
	SegmentsTotal  *prometheus.CounterVec
	SegmentSeconds prometheus.Histogram
	StoreErrors    *prometheus.CounterVec
	ScratchSwept   prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		JobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "submitted_total",
				Help:      "Submissions by outcome (new or reused)",
			},
			[]string{"outcome"},
		),
		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "finished_total",
				Help:      "Job attempts finished by result",
			},
			[]string{"result"},
		),
		JobsInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "in_progress",
				Help:      "Jobs currently executing",
			},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Wall time of one job attempt",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"result"},
		),
		JobRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "retries_total",
				Help:      "Job attempts that failed and were left for retry",
			},
		),
		SegmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "segments",
				Name:      "total",
				Help:      "Transcoded segments by result",
			},
			[]string{"result"},
		),
		SegmentSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "segments",
				Name:      "transcode_seconds",
				Help:      "Wall time of one segment transcode",
				Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
			},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Best-effort store writes that failed",
			},
			[]string{"op"},
		),
		ScratchSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scratch",
				Name:      "swept_total",
				Help:      "Stale scratch directories removed",
			},
		),
	}

	m.registry.MustRegister(
		m.JobsSubmitted,
		m.JobsFinished,
		m.JobsInProgress,
		m.JobDuration,
		m.JobRetries,
		m.SegmentsTotal,
		m.SegmentSeconds,
		m.StoreErrors,
		m.ScratchSwept,
	)
	return m
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSubmission(reused bool) {
	if m == nil {
		return
	}
	outcome := "new"
	if reused {
		outcome = "reused"
	}
	m.JobsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInProgress.Inc()
}

// JobFinished records the end of one attempt. result is done, failed or retrying.
func (m *Metrics) JobFinished(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsInProgress.Dec()
	m.JobsFinished.WithLabelValues(result).Inc()
	m.JobDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	if result == "retrying" {
		m.JobRetries.Inc()
	}
}

func (m *Metrics) SegmentFinished(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "done"
	if !ok {
		result = "failed"
	}
	m.SegmentsTotal.WithLabelValues(result).Inc()
	m.SegmentSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ScratchRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ScratchSwept.Add(float64(n))
}
