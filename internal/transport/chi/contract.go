package chi

import (
	"context"
	"io"

	domds "github.com/kailas-cloud/bitlens/internal/domain/dataset"
	datasetuc "github.com/kailas-cloud/bitlens/internal/usecase/dataset"
	healthuc "github.com/kailas-cloud/bitlens/internal/usecase/health"
	uploaduc "github.com/kailas-cloud/bitlens/internal/usecase/upload"
	usageuc "github.com/kailas-cloud/bitlens/internal/usecase/usage"
)

// Uploader turns an uploaded zip into a results zip.
type Uploader interface {
	Process(ctx context.Context, req uploaduc.Request, w io.Writer) (uploaduc.Result, error)
}

// Datasets lists and searches baked datasets.
type Datasets interface {
	List(ctx context.Context) ([]domds.Dataset, error)
	Get(ctx context.Context, name string) (domds.Dataset, error)
	Search(ctx context.Context, name string, req datasetuc.SearchRequest) (datasetuc.SearchResult, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageReporter reports token spend.
type UsageReporter interface {
	GetReport(ctx context.Context, period usageuc.Period) usageuc.Report
}
