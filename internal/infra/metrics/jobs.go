package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsCreatedTotal, jobTransitionsTotal, jobLifetimeSeconds, jobCancelledTotal) }

var (
	jobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_created_total",
			Help: "Jobs accepted by the API, labeled by content type and initial status.",
		},
		[]string{"content_type", "status"},
	)

	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_transitions_total",
			Help: "Job status transitions won by a writer, labeled by target status and trigger source.",
		},
		[]string{"to", "source"}, // source: webhook|poll|dispatch|sweep|user
	)

	jobLifetimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_lifetime_seconds",
			Help:    "Time from dispatch to a terminal status.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"content_type", "status"},
	)

	jobCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_cancelled_total",
			Help: "Jobs cancelled by their owner before dispatch.",
		},
	)
)

func IncJobCreated(contentType, status string) {
	jobsCreatedTotal.WithLabelValues(norm(contentType), norm(status)).Inc()
}

func IncJobTransition(to, source string) {
	jobTransitionsTotal.WithLabelValues(norm(to), norm(source)).Inc()
}

func ObserveJobLifetime(contentType, status string, d time.Duration) {
	jobLifetimeSeconds.WithLabelValues(norm(contentType), norm(status)).Observe(d.Seconds())
}

func IncJobCancelled() { jobCancelledTotal.Inc() }
