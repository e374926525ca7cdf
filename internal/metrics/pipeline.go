package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline and scan Prometheus metrics.
var (
	PipelineRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_records_total",
			Help:      "Records processed by the ingestion pipeline",
		},
		[]string{"mode", "result"}, // result: "ok" / "skipped" / "matched"
	)

	PipelineBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_batches_total",
			Help:      "Batches computed by pipeline workers",
		},
		[]string{"mode"},
	)

	PipelineBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_batch_duration_seconds",
			Help:      "Embed and quantize time per batch",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	PipelineInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_batches_in_flight",
			Help:      "Batches read but not yet written",
		},
		[]string{"mode"},
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Completed pipeline runs",
		},
		[]string{"mode", "status"},
	)

	ScanEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_entries_total",
			Help:      "Index entries compared during scans",
		},
	)

	ScanMatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_matches_total",
			Help:      "Index entries within the distance threshold",
		},
	)

	ScanDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_dropped_total",
			Help:      "Matched entries dropped for invalid UTF-8 or bad spans",
		},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Full index scan duration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)
)

var registerPipelineOnce sync.Once

// RegisterPipelineMetrics registers pipeline and scan metrics. Safe to call more than once.
func RegisterPipelineMetrics() {
	registerPipelineOnce.Do(func() {
		prometheus.MustRegister(
			PipelineRecordsTotal,
			PipelineBatchesTotal,
			PipelineBatchDuration,
			PipelineInFlight,
			PipelineRunsTotal,
			ScanEntriesTotal,
			ScanMatchesTotal,
			ScanDroppedTotal,
			ScanDuration,
		)
	})
}
