package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var archivesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "boardsync",
	Subsystem: "archive",
	Name:      "uploads_total",
	Help:      "Snapshot archives uploaded to object storage per room.",
}, []string{"room"})
