package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookEventsTotal) }

var webhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound events by source (provider name or billing) and outcome.",
	},
	[]string{"source", "outcome"}, // applied|noop|duplicate|unmatched|ignored|malformed|unauthorized|error
)

func IncWebhookEvent(source, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(source), norm(outcome)).Inc()
}
