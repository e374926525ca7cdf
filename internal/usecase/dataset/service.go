// Package dataset bakes, registers, searches and ships fingerprint indexes.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	domds "github.com/kailas-cloud/bitlens/internal/domain/dataset"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
	"github.com/kailas-cloud/bitlens/internal/index"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline/sink"
	"github.com/kailas-cloud/bitlens/internal/usecase/scan"
)

// QueryFilterName labels the filter built from search anchors.
const QueryFilterName = "query"

// SearchRequest describes a radius search. MaxDistance wins over MinScore when positive.
type SearchRequest struct {
	Query       string
	Anchors     []string
	MaxDistance int
	MinScore    float64
	Limit       int
}

// SearchResult is a scan result with the query it ran.
type SearchResult struct {
	Dataset     string
	Fingerprint fingerprint.Fingerprint
	MaxDistance int
	scan.Result
}

// Service manages datasets.
type Service struct {
	catalog Catalog
	archive Archive
	runner  Runner
	scanner Scanner
	filters FilterBuilder
	dataDir string
	defs    SearchRequest
	logger  *zap.Logger
}

// New creates a dataset service. archive may be nil.
func New(
	catalog Catalog, archive Archive, runner Runner, scanner Scanner, filters FilterBuilder,
	dataDir string, logger *zap.Logger,
) *Service {
	return &Service{
		catalog: catalog,
		archive: archive,
		runner:  runner,
		scanner: scanner,
		filters: filters,
		dataDir: dataDir,
		logger:  logger,
	}
}

// WithSearchDefaults sets the threshold and limit used when a request leaves them zero.
func (s *Service) WithSearchDefaults(maxDistance int, minScore float64, limit int) *Service {
	s.defs = SearchRequest{MaxDistance: maxDistance, MinScore: minScore, Limit: limit}
	return s
}

func (s *Service) paths(name string) (string, string) {
	return filepath.Join(s.dataDir, name+".idx"), filepath.Join(s.dataDir, name+".bin")
}

// Bake fingerprints every record of src into a new index and registers it.
// A failed bake leaves any previous index of the same name untouched.
func (s *Service) Bake(ctx context.Context, name string, src pipeline.Source) (domds.Dataset, pipeline.Stats, error) {
	if err := domds.ValidateName(name); err != nil {
		return domds.Dataset{}, pipeline.Stats{}, err
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return domds.Dataset{}, pipeline.Stats{}, domain.NewStageError(domain.StageBake, s.dataDir,
			fmt.Errorf("%w: %w", domain.ErrIO, err))
	}

	q := s.runner.Quantizer()
	indexPath, blobPath := s.paths(name)
	w, err := index.Create(indexPath, blobPath, q.Words())
	if err != nil {
		return domds.Dataset{}, pipeline.Stats{}, domain.NewStageError(domain.StageBake, indexPath, err)
	}
	bs := sink.NewBakeSink(w)

	stats, err := s.runner.Run(ctx, src, bs, nil)
	if err != nil {
		return domds.Dataset{}, stats, err
	}

	ds, err := domds.New(name, indexPath, blobPath, bs.Records(), bs.BlobSize(), q.Descriptor())
	if err != nil {
		return domds.Dataset{}, stats, err
	}
	if err := s.catalog.Put(ctx, ds); err != nil {
		return domds.Dataset{}, stats, fmt.Errorf("register dataset %s: %w", name, err)
	}
	s.logger.Info("Dataset baked",
		zap.String("dataset", name),
		zap.Int64("records", ds.Records()),
		zap.Uint64("blob_bytes", ds.BlobBytes()),
		zap.Stringer("quantizer", q.Descriptor()),
	)
	return ds, stats, nil
}

// Get returns a registered dataset.
func (s *Service) Get(ctx context.Context, name string) (domds.Dataset, error) {
	return s.catalog.Get(ctx, name)
}

// List returns every registered dataset.
func (s *Service) List(ctx context.Context) ([]domds.Dataset, error) {
	return s.catalog.List(ctx)
}

// Search embeds the query and anchors into one fingerprint and scans the dataset.
// A dataset baked by a different quantizer fails with domain.ErrSchemeMismatch.
func (s *Service) Search(ctx context.Context, name string, req SearchRequest) (SearchResult, error) {
	ds, err := s.catalog.Get(ctx, name)
	if err != nil {
		return SearchResult{}, err
	}
	if err := s.runner.Quantizer().Descriptor().Compatible(ds.Descriptor()); err != nil {
		return SearchResult{}, domain.NewStageError(domain.StageScan, name, err)
	}

	if req.MaxDistance == 0 && req.MinScore == 0 {
		req.MaxDistance, req.MinScore = s.defs.MaxDistance, s.defs.MinScore
	}
	if req.Limit == 0 {
		req.Limit = s.defs.Limit
	}
	anchors := req.Anchors
	if req.Query != "" {
		anchors = append([]string{req.Query}, anchors...)
	}
	threshold, err := s.filters.Threshold(req.MaxDistance, req.MinScore)
	if err != nil {
		return SearchResult{}, err
	}
	f, err := s.filters.Build(ctx, QueryFilterName, anchors, threshold)
	if err != nil {
		return SearchResult{}, err
	}

	res, err := s.scanner.Scan(ctx, ds.IndexPath(), ds.BlobPath(), f.Fingerprint(),
		s.runner.Quantizer().Bits(), threshold.MaxDistance())
	if err != nil {
		return SearchResult{}, err
	}
	if req.Limit > 0 && len(res.Matches) > req.Limit {
		res.Matches = res.Matches[:req.Limit]
	}
	return SearchResult{
		Dataset:     name,
		Fingerprint: f.Fingerprint(),
		MaxDistance: threshold.MaxDistance(),
		Result:      res,
	}, nil
}

// Publish uploads a dataset to the archive and records its key.
func (s *Service) Publish(ctx context.Context, name string) (domds.Dataset, error) {
	if s.archive == nil {
		return domds.Dataset{}, fmt.Errorf("%w: no archive configured", domain.ErrInvalidInput)
	}
	ds, err := s.catalog.Get(ctx, name)
	if err != nil {
		return domds.Dataset{}, err
	}
	key, err := s.archive.Publish(ctx, ds)
	if err != nil {
		return domds.Dataset{}, err
	}
	ds = ds.WithArchiveKey(key)
	if err := s.catalog.Put(ctx, ds); err != nil {
		return domds.Dataset{}, fmt.Errorf("register dataset %s: %w", name, err)
	}
	return ds, nil
}

// Fetch downloads a published dataset into the data directory, checks its
// structure and registers it locally.
func (s *Service) Fetch(ctx context.Context, name string) (domds.Dataset, error) {
	if s.archive == nil {
		return domds.Dataset{}, fmt.Errorf("%w: no archive configured", domain.ErrInvalidInput)
	}
	if err := domds.ValidateName(name); err != nil {
		return domds.Dataset{}, err
	}
	ds, err := s.archive.Fetch(ctx, name, s.dataDir)
	if err != nil {
		return domds.Dataset{}, err
	}

	r, err := index.Open(ds.IndexPath(), ds.BlobPath())
	if err != nil {
		return domds.Dataset{}, domain.NewStageError(domain.StageScan, ds.IndexPath(), err)
	}
	verr := r.Verify()
	n := r.Len()
	_ = r.Close()
	if verr != nil {
		return domds.Dataset{}, domain.NewStageError(domain.StageScan, ds.IndexPath(), verr)
	}
	if int64(n) != ds.Records() {
		return domds.Dataset{}, fmt.Errorf("%w: index has %d records, manifest says %d",
			domain.ErrCorruptIndex, n, ds.Records())
	}

	if err := s.catalog.Put(ctx, ds); err != nil {
		return domds.Dataset{}, fmt.Errorf("register dataset %s: %w", name, err)
	}
	return ds, nil
}

// Delete unregisters a dataset and removes its local files. With purge the
// archived copy is removed too.
func (s *Service) Delete(ctx context.Context, name string, purge bool) error {
	ds, err := s.catalog.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.catalog.Delete(ctx, name); err != nil {
		return err
	}

	var errs []error
	for _, p := range []string{ds.IndexPath(), ds.BlobPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%w: %w", domain.ErrIO, err))
		}
	}
	if purge && ds.Published() && s.archive != nil {
		if err := s.archive.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
