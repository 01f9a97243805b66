package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capturedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "outbox",
			Name:      "captured_total",
			Help:      "Mutations deferred because the story service was unreachable.",
		},
	)

	settledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "outbox",
			Name:      "settled_total",
			Help:      "Records that left the queue, by outcome (replayed, rejected, expired).",
		},
		[]string{"outcome"},
	)

	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storysync",
			Subsystem: "outbox",
			Name:      "replay_passes_total",
			Help:      "Replay passes by how they ended.",
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storysync",
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Records waiting for replay after the last pass or capture.",
		},
	)
)
