// Package jobmetrics instruments background jobs.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded in the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	orphans  prometheus.Gauge
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return buildMetrics(prometheus.DefaultRegisterer)
})

// NewMetrics registers the job collectors on registerer. A nil registerer
// shares one set registered on the default Prometheus registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return buildMetrics(registerer)
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged so it can be used in a
// deferred assignment. asynq.SkipRetry counts as skipped, not failed.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := StatusSuccess
	switch {
	case errors.Is(err, asynq.SkipRetry):
		status = StatusSkipped
	case err != nil:
		status = StatusFailure
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddOrphans records the number of orphaned policy objects found by the
// latest rules audit.
func (m *Metrics) AddOrphans(count int) {
	if m == nil {
		return
	}
	m.orphans.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Job runs by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_failures_total",
			Help: "Failed job runs by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Job run duration by job name.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		orphans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_authz_orphaned_objects",
			Help: "Policy objects without a matching menu at the last rules audit.",
		}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.orphans)
	return m
}
