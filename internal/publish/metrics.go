package publish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tsunami",
		Subsystem: "publish",
		Name:      "publications_total",
		Help:      "Channel publication attempts by outcome",
	}, []string{"channel", "outcome"})

	pendingPosts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tsunami",
		Subsystem: "publish",
		Name:      "pending_posts",
		Help:      "Posts still missing at least one enabled channel after the last publication pass",
	})
)
