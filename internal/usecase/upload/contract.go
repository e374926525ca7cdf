package upload

import (
	"context"
	"io"

	domfilter "github.com/kailas-cloud/bitlens/internal/domain/filter"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
)

// FilterLoader builds context filters from a keyword file.
type FilterLoader interface {
	Threshold(maxDistance int, minScore float64) (domfilter.Threshold, error)
	LoadKeywords(ctx context.Context, r io.Reader, threshold domfilter.Threshold) ([]domfilter.ContextFilter, error)
}

// Runner streams a source through the ingestion pipeline.
type Runner interface {
	Run(ctx context.Context, src pipeline.Source, sink pipeline.Sink, filters []domfilter.ContextFilter) (pipeline.Stats, error)
}
