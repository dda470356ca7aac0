package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors, labelled by the outbound dependency they guard.
var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pedilo",
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pedilo",
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pedilo",
			Name:      "breaker_open_total",
			Help:      "Number of times a breaker transitioned into open state",
		},
		[]string{"target"},
	)
)

// MustRegister adds the breaker collectors to reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
