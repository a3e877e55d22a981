package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and status bookkeeping.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	drift       prometheus.Gauge
	scanned     prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveTransition counts one customer status transition.
func (m *Metrics) ObserveTransition(reason, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(reason, from, to).Inc()
}

// SetDrift records how many customers carried a stale status at the last scan.
func (m *Metrics) SetDrift(count int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(count))
}

// AddScanned counts customers visited by a recompute run.
func (m *Metrics) AddScanned(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.scanned.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rental_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_customer_status_transitions_total",
		Help: "Customer status transitions grouped by reason and direction.",
	}, []string{"reason", "from", "to"})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rental_customer_status_drift",
		Help: "Customers whose stored status disagreed with their contracts at the last recompute.",
	})
	scanned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rental_customer_status_scanned_total",
		Help: "Customers visited by status recompute runs.",
	})
	registerer.MustRegister(runs, failures, duration, transitions, drift, scanned)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		transitions: transitions,
		drift:       drift,
		scanned:     scanned,
	}
}
