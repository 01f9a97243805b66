package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Story service requests by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storysync",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Story service round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)
