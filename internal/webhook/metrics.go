package webhook

import "github.com/prometheus/client_golang/prometheus"

var (
	// webhookEvents counts deliveries by event kind and outcome. Outcomes:
	// processed, unmapped, malformed, rejected, error.
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook deliveries by event kind and outcome.",
		},
		[]string{"event", "outcome"},
	)

	// autoReplies counts auto-reply attempts by triggering path (webhook or
	// scheduler) and outcome (sent, cooldown, generation_failed, send_failed).
	autoReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_replies_total",
			Help: "Total number of auto-reply attempts by path and outcome.",
		},
		[]string{"path", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(webhookEvents, autoReplies)
}

func recordEvent(event, outcome string) {
	webhookEvents.WithLabelValues(event, outcome).Inc()
}

// RecordAutoReply is shared with the polling scheduler so both auto-reply
// paths report into one metric.
func RecordAutoReply(path, outcome string) {
	autoReplies.WithLabelValues(path, outcome).Inc()
}

func recordAutoReply(path, outcome string) { RecordAutoReply(path, outcome) }
