package compose

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "compose",
		Name:      "generation_attempts_total",
		Help:      "Generation attempts by outcome (single, thread, overflow, error)",
	}, []string{"outcome"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "compose",
		Name:      "completion_cache_hits_total",
		Help:      "Completions served from cache by layer (memory, store)",
	}, []string{"layer"})
)
