package agreement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rounds = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tsunami",
	Subsystem: "agreement",
	Name:      "rounds_total",
	Help:      "Agreement rounds by outcome event",
}, []string{"event"})
