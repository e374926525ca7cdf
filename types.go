package bitlens

import (
	"github.com/kailas-cloud/bitlens/internal/config"
	"github.com/kailas-cloud/bitlens/internal/domain"
	domds "github.com/kailas-cloud/bitlens/internal/domain/dataset"
	datasetuc "github.com/kailas-cloud/bitlens/internal/usecase/dataset"
	healthuc "github.com/kailas-cloud/bitlens/internal/usecase/health"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
	"github.com/kailas-cloud/bitlens/internal/usecase/scan"
	uploaduc "github.com/kailas-cloud/bitlens/internal/usecase/upload"
	usageuc "github.com/kailas-cloud/bitlens/internal/usecase/usage"
)

type (
	// Config is the engine configuration, as read from config/<env>.yaml.
	Config = config.Config
	// Embedder turns a text into a vector.
	Embedder = domain.Embedder
	// BatchEmbedder is implemented by embedders with a native batch call.
	BatchEmbedder = domain.BatchEmbedder
	// EmbeddingResult is a single embedding with token usage.
	EmbeddingResult = domain.EmbeddingResult
	// BatchEmbeddingResult holds one vector per input text.
	BatchEmbeddingResult = domain.BatchEmbeddingResult
	// Descriptor identifies the quantizer that produced a set of fingerprints.
	Descriptor = domain.Descriptor

	// Dataset is a baked index registered in the catalog.
	Dataset = domds.Dataset
	// Stats summarizes a pipeline run.
	Stats = pipeline.Stats
	// SearchRequest describes a radius search over a dataset.
	SearchRequest = datasetuc.SearchRequest
	// SearchResult holds the matches of a radius search.
	SearchResult = datasetuc.SearchResult
	// Match is one record within the search radius.
	Match = scan.Match

	// UploadRequest describes a zip upload of keywords and records.
	UploadRequest = uploaduc.Request
	// UploadResult summarizes a processed upload.
	UploadResult = uploaduc.Result
	// HealthReport aggregates component checks.
	HealthReport = healthuc.Report
	// UsageReport describes token consumption for a period.
	UsageReport = usageuc.Report
)

// Output formats for Filter.
const (
	FormatLines = uploaduc.FormatLines
	FormatJSON  = uploaduc.FormatJSON
)

// Aggregated health statuses of a HealthReport.
const (
	HealthOK       = healthuc.Healthy
	HealthDegraded = healthuc.Degraded
	HealthError    = healthuc.Unhealthy
)

// LoadConfig reads a YAML config file, applies defaults and validates it.
func LoadConfig(path string) (Config, error) {
	return config.LoadFile(path)
}
