package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	windowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "chain",
		Name:      "log_windows_total",
		Help:      "Block windows queried for registry logs",
	}, []string{"chain"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "chain",
		Name:      "log_query_retries_total",
		Help:      "Transient log query failures that were retried",
	}, []string{"chain"})
)
