package sources

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	factsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "sources",
		Name:      "facts_posted_total",
		Help:      "Facts turned into posts by source",
	}, []string{"source"})

	skippedFacts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "sources",
		Name:      "facts_skipped_total",
		Help:      "Facts or units of work skipped by source and reason",
	}, []string{"source", "reason"})
)
