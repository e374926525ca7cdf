package dataset

import (
	"context"

	domds "github.com/kailas-cloud/bitlens/internal/domain/dataset"
	domfilter "github.com/kailas-cloud/bitlens/internal/domain/filter"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
	"github.com/kailas-cloud/bitlens/internal/usecase/scan"
)

// Catalog persists dataset metadata.
type Catalog interface {
	Put(ctx context.Context, ds domds.Dataset) error
	Get(ctx context.Context, name string) (domds.Dataset, error)
	List(ctx context.Context) ([]domds.Dataset, error)
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

// Archive moves dataset artifacts to and from object storage.
type Archive interface {
	Publish(ctx context.Context, ds domds.Dataset) (string, error)
	Fetch(ctx context.Context, name, dir string) (domds.Dataset, error)
	Delete(ctx context.Context, name string) error
}

// Runner streams a source through the ingestion pipeline.
type Runner interface {
	Run(ctx context.Context, src pipeline.Source, sink pipeline.Sink, filters []domfilter.ContextFilter) (pipeline.Stats, error)
	Quantizer() pipeline.Quantizer
}

// Scanner runs radius scans over an index pair.
type Scanner interface {
	Scan(
		ctx context.Context, indexPath, blobPath string, query fingerprint.Fingerprint, bits, maxDistance int,
	) (scan.Result, error)
}

// FilterBuilder turns query anchors into a fingerprint with a threshold.
type FilterBuilder interface {
	Threshold(maxDistance int, minScore float64) (domfilter.Threshold, error)
	Build(ctx context.Context, name string, anchors []string, threshold domfilter.Threshold) (domfilter.ContextFilter, error)
}
