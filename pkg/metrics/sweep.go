package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepJobMetrics records metadata for scheduled sweep jobs.
type SweepJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	rows     *prometheus.CounterVec
}

// NewSweepJobMetrics registers the sweep job metrics on the provided registerer.
func NewSweepJobMetrics(reg prometheus.Registerer) *SweepJobMetrics {
	if reg == nil {
		return &SweepJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_job_duration_seconds",
		Help:    "Duration of sweep jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_job_success",
		Help: "Successful sweep job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_job_failure",
		Help: "Failed sweep job executions.",
	}, []string{"job"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_rows_processed",
		Help: "Entitlement rows touched per sweep phase.",
	}, []string{"job", "phase"})
	reg.MustRegister(duration, success, failure, rows)
	return &SweepJobMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		rows:     rows,
	}
}

// ObserveDuration records the duration for the named job.
func (m *SweepJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (m *SweepJobMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (m *SweepJobMetrics) IncFailure(job string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddRows counts rows touched by one phase of the named job.
func (m *SweepJobMetrics) AddRows(job, phase string, n int) {
	if m == nil || m.rows == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(job), normalizeLabel(phase)).Add(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
