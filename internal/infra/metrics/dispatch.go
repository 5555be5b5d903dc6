package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(providerCallsTotal, providerCallLatency, reconcileRunsTotal) }

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Provider calls by provider, operation (submit/poll/asset_check) and outcome.",
		},
		[]string{"provider", "op", "outcome"}, // outcome: ok|retryable|fatal|error
	)

	providerCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Provider call latency distribution in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "op"},
	)

	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_jobs_total",
			Help: "Jobs handled by the polling reconciler, labeled by result.",
		},
		[]string{"result"}, // polled|completed|failed|expired|skipped|stale_charged
	)
)

func ObserveProviderCall(provider, op, outcome string, d time.Duration) {
	providerCallsTotal.WithLabelValues(norm(provider), norm(op), norm(outcome)).Inc()
	providerCallLatency.WithLabelValues(norm(provider), norm(op)).Observe(float64(d.Milliseconds()))
}

func IncReconcile(result string, n int) {
	if n <= 0 {
		return
	}
	reconcileRunsTotal.WithLabelValues(norm(result)).Add(float64(n))
}
