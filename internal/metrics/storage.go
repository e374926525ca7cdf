package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Archive and upload Prometheus metrics.
var (
	ArchiveOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_operations_total",
			Help:      "Dataset publish and fetch operations",
		},
		[]string{"op", "status"}, // op: "publish" / "fetch"
	)

	ArchiveBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_bytes_total",
			Help:      "Uncompressed artifact bytes moved to or from the archive",
		},
		[]string{"op"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Processed zip uploads",
		},
		[]string{"status"},
	)
)

var registerStorageOnce sync.Once

// RegisterStorageMetrics registers archive and upload metrics. Safe to call more than once.
func RegisterStorageMetrics() {
	registerStorageOnce.Do(func() {
		prometheus.MustRegister(ArchiveOpsTotal, ArchiveBytesTotal, UploadsTotal)
	})
}
