// Package metrics exposes run counters to Prometheus and to the status
// endpoint. Collectors live on a private registry so tests and embedders
// never fight over the global one.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/baton/internal/run"
)

// durationBuckets cover session jobs, which run seconds to tens of
// minutes rather than milliseconds.
var durationBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}

// Metrics tracks run-level counters.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	persistedBytes *prometheus.CounterVec
	coldStarts     *prometheus.CounterVec
	runsSkipped    *prometheus.CounterVec
	runsInFlight   prometheus.Gauge

	started   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Name:      "runs_total",
			Help:      "Finished runs by job, trigger reason, and outcome.",
		}, []string{"job", "reason", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "baton",
			Name:      "run_duration_seconds",
			Help:      "Wall time spent in each run phase.",
			Buckets:   durationBuckets,
		}, []string{"job", "phase"}),
		persistedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Name:      "artifact_persisted_bytes_total",
			Help:      "Bytes of session artifacts persisted per job.",
		}, []string{"job"}),
		coldStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Name:      "cold_starts_total",
			Help:      "Runs that found no session artifact to restore.",
		}, []string{"job"}),
		runsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baton",
			Name:      "runs_skipped_total",
			Help:      "Scheduled ticks skipped because the previous run was still in progress.",
		}, []string{"job"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "baton",
			Name:      "runs_in_flight",
			Help:      "Runs currently executing.",
		}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.persistedBytes,
		m.coldStarts,
		m.runsSkipped,
		m.runsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RunStarted records a run entering the engine.
func (m *Metrics) RunStarted() {
	m.runsInFlight.Inc()
	m.started.Add(1)
}

// RunFinished records a terminal run: outcome, phase durations, persisted
// bytes, and cold starts.
func (m *Metrics) RunFinished(r *run.Run) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(r.Job, string(r.Reason), string(r.Outcome)).Inc()

	for phase, d := range r.Durations {
		m.runDuration.WithLabelValues(r.Job, string(phase)).Observe(d.Seconds())
	}
	if r.PersistedBytes > 0 {
		m.persistedBytes.WithLabelValues(r.Job).Add(float64(r.PersistedBytes))
	}
	if r.ColdStart {
		m.coldStarts.WithLabelValues(r.Job).Inc()
	}

	switch r.Outcome {
	case run.OutcomeSucceeded:
		m.succeeded.Add(1)
	case run.OutcomeFailed, run.OutcomeAborted:
		m.failed.Add(1)
	case run.OutcomeCanceled:
		// Cancellation is a shutdown side effect, not a job result.
	}
}

// RunSkipped records a scheduled tick that found the previous run of the
// same job still in progress.
func (m *Metrics) RunSkipped(job string) {
	m.runsSkipped.WithLabelValues(job).Inc()
	m.skipped.Add(1)
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot returns a point-in-time counter view for the status endpoint.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RunsStarted:   m.started.Load(),
		RunsSucceeded: m.succeeded.Load(),
		RunsFailed:    m.failed.Load(),
		RunsSkipped:   m.skipped.Load(),
		Time:          time.Now().UTC(),
	}
}

// Snapshot is a serializable point-in-time metrics view.
type Snapshot struct {
	RunsStarted   int64     `json:"runs_started"`
	RunsSucceeded int64     `json:"runs_succeeded"`
	RunsFailed    int64     `json:"runs_failed"`
	RunsSkipped   int64     `json:"runs_skipped"`
	Time          time.Time `json:"time"`
}
