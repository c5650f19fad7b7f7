package ws

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	gatewayUpgradeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "boardsync",
		Subsystem: "gateway",
		Name:      "upgrade_seconds",
		Help:      "Latency spent upgrading HTTP connections to WebSockets.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	gatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "boardsync",
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Active WebSocket connections.",
	})

	gatewayFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "gateway",
		Name:      "frames_total",
		Help:      "Frames received from clients, by opcode.",
	}, []string{"opcode"})

	once sync.Once
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(gatewayUpgradeLatency, gatewayConnections, gatewayFrames)
	})
}

var tracer = otel.Tracer("github.com/example/boardsync/ws")
