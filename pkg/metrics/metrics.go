// Package metrics registers the Prometheus collectors shared by the DAG
// executor (C12) and the scheduler (C15), per the domain-stack wiring in
// SPEC_FULL.md section B.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector one process registers exactly once, so
// internal/app can wire it into both the DAG executor and the scheduler
// without either package importing a global default registerer.
type Registry struct {
	TaskDuration   *prometheus.HistogramVec
	TaskOutcomes   *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobFailures    *prometheus.CounterVec
	LeaderGauge    prometheus.Gauge
	HTTPDuration   *prometheus.HistogramVec
	HTTPRequests   *prometheus.CounterVec
}

// NewRegistry builds and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "dag",
			Name:      "task_duration_seconds",
			Help:      "Duration of one DAG task's execution, by task type and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task_type", "status"}),
		TaskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "dag",
			Name:      "task_outcomes_total",
			Help:      "Count of DAG task completions by task type and outcome.",
		}, []string{"task_type", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of one scheduler job tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		JobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "scheduler",
			Name:      "job_failures_total",
			Help:      "Count of scheduler job ticks that returned an error.",
		}, []string{"job"}),
		LeaderGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "scheduler",
			Name:      "is_leader",
			Help:      "1 if this instance currently holds the global scheduler lock, else 0.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of one HTTP request, by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of HTTP requests served, by route and status class.",
		}, []string{"route", "method", "status"}),
	}
	reg.MustRegister(r.TaskDuration, r.TaskOutcomes, r.JobDuration, r.JobFailures, r.LeaderGauge,
		r.HTTPDuration, r.HTTPRequests)
	return r
}

// ObserveTask records one DAG task's outcome and wall-clock duration.
func (r *Registry) ObserveTask(taskType, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.TaskDuration.WithLabelValues(taskType, status).Observe(d.Seconds())
	r.TaskOutcomes.WithLabelValues(taskType, status).Inc()
}

// ObserveJob records one scheduler job tick's duration and, on failure,
// increments the failure counter.
func (r *Registry) ObserveJob(job string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.JobDuration.WithLabelValues(job).Observe(d.Seconds())
	if err != nil {
		r.JobFailures.WithLabelValues(job).Inc()
	}
}

// ObserveHTTP records one request's duration and outcome, keyed by the
// chi route pattern rather than the raw path so per-user path segments
// (session/user ids) don't blow up cardinality.
func (r *Registry) ObserveHTTP(route, method, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
	r.HTTPRequests.WithLabelValues(route, method, status).Inc()
}

// SetLeader updates the is_leader gauge.
func (r *Registry) SetLeader(isLeader bool) {
	if r == nil {
		return
	}
	if isLeader {
		r.LeaderGauge.Set(1)
	} else {
		r.LeaderGauge.Set(0)
	}
}
