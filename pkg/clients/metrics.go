package clients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tsunami",
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tsunami",
			Name:      "circuit_breaker_state_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	upstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tsunami",
			Name:      "upstream_requests_total",
			Help:      "HTTP requests sent to upstream APIs by final status class",
		},
		[]string{"upstream", "status"},
	)
)

func recordCircuitBreakerTransition(name string, from, to CircuitBreakerState) {
	circuitBreakerStateTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	circuitBreakerState.WithLabelValues(name).Set(float64(to))
}
