package crdt

import "github.com/prometheus/client_golang/prometheus"

var (
	decodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "codec",
		Name:      "decode_failures_total",
		Help:      "Replicated records that could not be decoded into shapes.",
	}, []string{"type"})

	importLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "boardsync",
		Subsystem: "document",
		Name:      "import_seconds",
		Help:      "Time spent merging remote snapshots into local documents.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(decodeFailures, importLatency)
}
