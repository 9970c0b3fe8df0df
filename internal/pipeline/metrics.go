package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "pipeline",
		Name:      "stage_attempts_total",
		Help:      "Stage attempts by stage and outcome",
	}, []string{"stage", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tsunami",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of a stage run, excluding agreement",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	periodGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tsunami",
		Subsystem: "pipeline",
		Name:      "period",
		Help:      "Last completed period",
	})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tsunami",
		Subsystem: "pipeline",
		Name:      "pending_posts",
		Help:      "Agreed pending posts after the last applied stage",
	})
)
