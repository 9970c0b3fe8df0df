package kvstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tsunami",
	Subsystem: "kvstore",
	Name:      "requests_total",
	Help:      "Store requests by performative and response",
}, []string{"request", "response"})
