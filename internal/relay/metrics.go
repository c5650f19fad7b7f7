package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "relay",
		Name:      "active_rooms",
		Help:      "Number of rooms with at least one peer.",
	})
	activePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "relay",
		Name:      "active_peers",
		Help:      "Number of peers currently joined to a room.",
	})
	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "relay",
		Name:      "broadcasts_total",
		Help:      "Messages fanned out to room feeds, by message type.",
	}, []string{"type"})
	droppedFeedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "relay",
		Name:      "dropped_feed_messages_total",
		Help:      "Messages dropped from lagging per-peer feeds.",
	})
	fanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "boardsync",
		Subsystem: "relay",
		Name:      "fanout_duration_seconds",
		Help:      "Time spent delivering one broadcast to all room feeds.",
		Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12),
	})
)
