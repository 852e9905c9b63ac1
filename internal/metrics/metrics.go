// Package metrics exposes the analysis queue's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callcoach"

// Outcome labels for processed jobs.
const (
	OutcomeCompleted  = "completed"
	OutcomeDegenerate = "degenerate"
	OutcomeFailed     = "failed"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	jobsEnqueued    prometheus.Counter
	jobsProcessed   *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsRetried     prometheus.Counter
	jobsReaped      *prometheus.CounterVec
	jobsCleaned     prometheus.Counter
	lostLeases      prometheus.Counter
	profileUpdates  prometheus.Counter
	maintenanceRuns *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_enqueued_total",
			Help:      "Analysis jobs admitted to the queue.",
		}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_processed_total",
			Help:      "Analysis jobs finished by a worker, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_job_duration_seconds",
			Help:      "Wall time from claim to the final write, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"outcome"}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_retried_total",
			Help:      "Failed jobs reset to pending by the retry manager.",
		}),
		jobsReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_reaped_total",
			Help:      "Jobs with an expired lease handled by the reaper, by action.",
		}, []string{"action"}),
		jobsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_jobs_cleaned_total",
			Help:      "Completed jobs deleted after the retention window.",
		}),
		lostLeases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_lost_leases_total",
			Help:      "Completions rejected because the worker no longer held the lease.",
		}),
		profileUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_profile_updates_total",
			Help:      "Skill profile recalibrations applied.",
		}),
		maintenanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Scheduled maintenance passes, by task and result.",
		}, []string{"task", "result"}),
	}

	reg.MustRegister(
		m.jobsEnqueued,
		m.jobsProcessed,
		m.jobDuration,
		m.jobsRetried,
		m.jobsReaped,
		m.jobsCleaned,
		m.lostLeases,
		m.profileUpdates,
		m.maintenanceRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobEnqueued() {
	if m == nil {
		return
	}
	m.jobsEnqueued.Inc()
}

func (m *Metrics) JobProcessed(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) JobsRetried(n int) {
	if m == nil {
		return
	}
	m.jobsRetried.Add(float64(n))
}

func (m *Metrics) JobsReaped(requeued, failed int) {
	if m == nil {
		return
	}
	m.jobsReaped.WithLabelValues("requeued").Add(float64(requeued))
	m.jobsReaped.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) JobsCleaned(n int64) {
	if m == nil {
		return
	}
	m.jobsCleaned.Add(float64(n))
}

func (m *Metrics) LeaseLost() {
	if m == nil {
		return
	}
	m.lostLeases.Inc()
}

func (m *Metrics) ProfileUpdated() {
	if m == nil {
		return
	}
	m.profileUpdates.Inc()
}

// MaintenanceRun records one scheduled pass; result is "ok" or "error".
func (m *Metrics) MaintenanceRun(task string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.maintenanceRuns.WithLabelValues(task, result).Inc()
}
