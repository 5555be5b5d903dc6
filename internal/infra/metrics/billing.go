package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(billingEventsTotal, subscriptionTransitionsTotal, subscriptionsByStatus) }

var (
	billingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_events_total",
			Help: "Processor billing events by normalized type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	subscriptionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Subscription state changes (grace_period, restored, upgrade, downgrade_scheduled, downgrade_applied, cancelled ...).",
		},
		[]string{"change"},
	)

	subscriptionsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_by_status",
			Help: "Current number of subscriptions in each billing status.",
		},
		[]string{"status"},
	)
)

func IncBillingEvent(typ, outcome string) {
	billingEventsTotal.WithLabelValues(norm(typ), norm(outcome)).Inc()
}

func IncSubscriptionTransition(change string, n int) {
	if n <= 0 {
		return
	}
	subscriptionTransitionsTotal.WithLabelValues(norm(change)).Add(float64(n))
}

func SetSubscriptionsByStatus(status string, n int) {
	subscriptionsByStatus.WithLabelValues(norm(status)).Set(float64(n))
}
