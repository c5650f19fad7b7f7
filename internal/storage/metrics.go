package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	snapshotSaveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "boardsync",
		Subsystem: "snapshots",
		Name:      "save_seconds",
		Help:      "Latency for persisting room snapshots.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"room"})

	snapshotBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "snapshots",
		Name:      "bytes",
		Help:      "Size of the last persisted snapshot per room.",
	}, []string{"room"})

	storageTracer = otel.Tracer("github.com/example/boardsync/storage")
)

func init() {
	prometheus.MustRegister(snapshotSaveLatency, snapshotBytes)
}
