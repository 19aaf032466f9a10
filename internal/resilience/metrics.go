package resilience

import "github.com/prometheus/client_golang/prometheus"

// BreakerTransitions counts breaker state transitions per target.
var BreakerTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions grouped by target",
	},
	[]string{"target", "from", "to"},
)

func init() {
	prometheus.MustRegister(BreakerTransitions)
}
