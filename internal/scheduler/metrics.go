package scheduler

import "github.com/prometheus/client_golang/prometheus"

// sweepTicks counts sweep outcomes: completed, skipped (previous tick still
// running) or error (creator query failed).
var sweepTicks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auto_reply_sweep_ticks_total",
		Help: "Total number of auto-reply sweep ticks by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(sweepTicks)
}

func tickOutcome(outcome string) {
	sweepTicks.WithLabelValues(outcome).Inc()
}
