package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	revalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "syncer",
			Name:      "revalidations_total",
			Help:      "Background cache revalidations by outcome.",
		},
		[]string{"outcome"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "syncer",
			Name:      "submissions_total",
			Help:      "Story submissions by outcome (posted, deferred, rejected, failed).",
		},
		[]string{"outcome"},
	)

	cacheServedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "syncer",
			Name:      "cache_served_total",
			Help:      "Listings rendered from the local cache before revalidation.",
		},
	)
)
