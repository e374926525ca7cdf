// Package bitlens fingerprints text into binary locality-sensitive hashes and
// matches them by Hamming distance.
//
// Records stream through an embedder and a quantizer. A filter run scores every
// record against named anchor sets and reports the best match; a bake writes the
// fingerprints into a memory-mapped index that later searches scan in parallel.
//
//	eng, err := bitlens.New(ctx, bitlens.WithConfigFile("config/local.yaml"))
//	if err != nil { ... }
//	defer eng.Close()
//
//	_, _, _ = eng.Bake(ctx, "news", "news.csv", "1")
//	res, _ := eng.Search(ctx, "news", bitlens.SearchRequest{Query: "knife attack", MaxDistance: 10})
package bitlens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/config"
	"github.com/kailas-cloud/bitlens/internal/db"
	"github.com/kailas-cloud/bitlens/internal/domain"
	domfilter "github.com/kailas-cloud/bitlens/internal/domain/filter"
	"github.com/kailas-cloud/bitlens/internal/metrics"
	"github.com/kailas-cloud/bitlens/internal/quantize"
	"github.com/kailas-cloud/bitlens/internal/repository/archive"
	"github.com/kailas-cloud/bitlens/internal/source"
	chiTransport "github.com/kailas-cloud/bitlens/internal/transport/chi"
	datasetuc "github.com/kailas-cloud/bitlens/internal/usecase/dataset"
	embeddinguc "github.com/kailas-cloud/bitlens/internal/usecase/embedding"
	filteruc "github.com/kailas-cloud/bitlens/internal/usecase/filter"
	healthuc "github.com/kailas-cloud/bitlens/internal/usecase/health"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline/sink"
	"github.com/kailas-cloud/bitlens/internal/usecase/scan"
	uploaduc "github.com/kailas-cloud/bitlens/internal/usecase/upload"
	usageuc "github.com/kailas-cloud/bitlens/internal/usecase/usage"
)

// ExpandedFilterName labels the filter built by thesaurus expansion.
const ExpandedFilterName = "expanded"

// Engine wires the embedding chain, the pipeline, the catalog and the archive.
// It is safe for concurrent use.
type Engine struct {
	cfg    config.Config
	logger *zap.Logger

	quantizer quantize.Quantizer
	pipeline  *pipeline.Pipeline
	filters   *filteruc.Service
	thesaurus *filteruc.Thesaurus
	datasets  *datasetuc.Service
	uploads   *uploaduc.Service
	health    *healthuc.Service
	usage     *usageuc.Service

	closers []func() error
}

// New builds an Engine. The caller must Close it.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	ec := &engineConfig{}
	for _, o := range opts {
		o(ec)
	}
	cfg, err := ec.resolve()
	if err != nil {
		return nil, fmt.Errorf("bitlens: %w", err)
	}
	logger := ec.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{cfg: cfg, logger: logger}
	if err := e.wire(ctx, ec.embedder); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("bitlens: %w", err)
	}
	return e, nil
}

func (e *Engine) wire(ctx context.Context, injected domain.Embedder) error {
	cfg, logger := e.cfg, e.logger

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()
	metrics.RegisterStorageMetrics()

	// Interface stays nil without a cache: a typed nil would pass the nil checks below.
	var cache db.Store
	if cfg.Cache.Enabled() {
		store, err := openCache(ctx, cfg.Cache, logger)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, func() error { store.Close(); return nil })
		cache = store
	}

	budget := newBudget(ctx, cfg.Embedding, cache, logger)
	var budgetChecker embeddinguc.BudgetChecker
	var budgetReader usageuc.BudgetReader
	if budget != nil {
		budgetChecker = budget
		budgetReader = budget
	}

	base := injected
	if base == nil {
		provider, closeFn, err := newProvider(cfg.Embedding, logger)
		if err != nil {
			return err
		}
		if closeFn != nil {
			e.closers = append(e.closers, closeFn)
		}
		base = provider
	}
	chain := buildEmbedder(base, cfg.Embedding, cache, budgetChecker, logger)
	docEmbedder := withPrefix(chain, cfg.Embedding.DocumentPrefix)
	queryEmbedder := withPrefix(chain, cfg.Embedding.QueryPrefix)

	q, err := quantize.New(domain.Descriptor{
		Scheme:    cfg.Quantizer.Scheme,
		InputDim:  cfg.Embedding.Dimensions,
		OutputDim: cfg.Quantizer.OutputDim,
		Seed:      cfg.Quantizer.Seed,
	})
	if err != nil {
		return err
	}
	e.quantizer = q

	tie, err := domfilter.ParseTieBreak(cfg.Filter.TieBreak)
	if err != nil {
		return err
	}
	e.pipeline = pipeline.New(docEmbedder, q, pipeline.Config{
		BatchSize:     cfg.Pipeline.BatchSize,
		Workers:       cfg.Pipeline.Workers,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		ProgressEvery: cfg.Pipeline.ProgressEvery,
		TieBreak:      tie,
	}, logger)
	e.filters = filteruc.New(queryEmbedder, q, logger)
	if e.thesaurus, err = loadThesaurus(cfg.Filter.Thesaurus); err != nil {
		return err
	}

	cat, err := openCatalog(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	e.closers = append(e.closers, cat.Close)

	arch, objects, err := openArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}
	var datasetArchive datasetuc.Archive
	if arch != nil {
		datasetArchive = arch
	}

	e.datasets = datasetuc.New(cat, datasetArchive, e.pipeline, scan.New(cfg.Scan.Workers, logger),
		e.filters, cfg.Storage.DataDir, logger).
		WithSearchDefaults(cfg.Scan.MaxDistance, 0, cfg.Scan.Limit)
	e.uploads = uploaduc.New(e.filters, e.pipeline, cfg.Storage.TempDir, logger).
		WithThreshold(cfg.Filter.MaxDistance, cfg.Filter.MinScore)

	e.health = healthuc.New(cat, &embeddingHealthChecker{embedder: chain})
	if cache != nil {
		e.health.WithCache(cache)
	}
	if objects != nil {
		e.health.WithArchive(objects)
	}
	e.usage = usageuc.New(budgetReader)

	logger.Info("Engine ready",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Stringer("quantizer", q.Descriptor()),
		zap.String("catalog", cfg.Catalog.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.Bool("cache", cache != nil),
	)
	return nil
}

func loadThesaurus(path string) (*filteruc.Thesaurus, error) {
	if path == "" {
		return filteruc.DefaultThesaurus(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open thesaurus: %w", err)
	}
	defer f.Close()
	return filteruc.LoadThesaurus(f)
}

// Close releases the catalog, the cache connection and the local model, in reverse order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Config returns the resolved configuration.
func (e *Engine) Config() Config { return e.cfg }

// Descriptor returns the quantizer every fingerprint of this engine is produced with.
func (e *Engine) Descriptor() Descriptor { return e.quantizer.Descriptor() }

// Bake fingerprints the records of the file at path into a dataset named name.
// column selects the text column; see Filter.
func (e *Engine) Bake(ctx context.Context, name, path, column string) (Dataset, Stats, error) {
	src, err := source.Open(path, column)
	if err != nil {
		return Dataset{}, Stats{}, err
	}
	return e.datasets.Bake(ctx, name, src)
}

// BakeTexts bakes an in-memory corpus.
func (e *Engine) BakeTexts(ctx context.Context, name string, texts []string) (Dataset, Stats, error) {
	return e.datasets.Bake(ctx, name, source.NewSlice(name, texts...))
}

// Search scans a dataset for records within the radius of the query and anchors.
// Zero bounds fall back to the scan section of the config.
func (e *Engine) Search(ctx context.Context, dataset string, req SearchRequest) (SearchResult, error) {
	return e.datasets.Search(ctx, dataset, req)
}

// Dataset returns a registered dataset.
func (e *Engine) Dataset(ctx context.Context, name string) (Dataset, error) {
	return e.datasets.Get(ctx, name)
}

// Datasets lists every registered dataset.
func (e *Engine) Datasets(ctx context.Context) ([]Dataset, error) {
	return e.datasets.List(ctx)
}

// Publish uploads a dataset to the configured archive.
func (e *Engine) Publish(ctx context.Context, name string) (Dataset, error) {
	return e.datasets.Publish(ctx, name)
}

// Fetch downloads a published dataset into the data directory and registers it.
func (e *Engine) Fetch(ctx context.Context, name string) (Dataset, error) {
	return e.datasets.Fetch(ctx, name)
}

// Delete unregisters a dataset and removes its files; purge also drops the archived copy.
func (e *Engine) Delete(ctx context.Context, name string, purge bool) error {
	return e.datasets.Delete(ctx, name, purge)
}

// FilterRequest describes a filter run over one input file.
type FilterRequest struct {
	// DataPath is the record file: .csv, .tsv, .jsonl, .parquet or plain lines.
	DataPath string
	// Column is a 0-based index or header name for CSV, a field for JSON lines,
	// a column for Parquet. Ignored for plain lines.
	Column string
	// KeywordsPath is a CSV of "category,anchor,anchor,..." rows.
	KeywordsPath string
	// Subject, Object and Action build a single thesaurus-expanded filter
	// instead of reading KeywordsPath.
	Subject string
	Object  string
	Action  string

	Format      string // FormatLines (default) or FormatJSON
	MaxDistance int
	MinScore    float64
}

// Filter matches every record of req.DataPath against the filters and writes
// one report entry per match to w. w is not closed.
func (e *Engine) Filter(ctx context.Context, req FilterRequest, w io.Writer) (Stats, error) {
	if req.MaxDistance == 0 && req.MinScore == 0 {
		req.MaxDistance, req.MinScore = e.cfg.Filter.MaxDistance, e.cfg.Filter.MinScore
	}
	threshold, err := e.filters.Threshold(req.MaxDistance, req.MinScore)
	if err != nil {
		return Stats{}, err
	}
	filters, err := e.loadFilters(ctx, req, threshold)
	if err != nil {
		return Stats{}, err
	}

	src, err := source.Open(req.DataPath, req.Column)
	if err != nil {
		return Stats{}, err
	}

	// Sinks close writers that implement io.Closer; the caller owns w.
	out := struct{ io.Writer }{w}
	var snk pipeline.Sink
	switch req.Format {
	case FormatLines, "":
		snk = sink.NewLineSink(out)
	case FormatJSON:
		snk = sink.NewJSONSink(out)
	default:
		return Stats{}, fmt.Errorf("%w: unknown format %q", domain.ErrInvalidInput, req.Format)
	}
	return e.pipeline.Run(ctx, src, snk, filters)
}

func (e *Engine) loadFilters(
	ctx context.Context, req FilterRequest, threshold domfilter.Threshold,
) ([]domfilter.ContextFilter, error) {
	if req.Subject != "" || req.Object != "" {
		f, err := e.filters.BuildExpanded(ctx, e.thesaurus, ExpandedFilterName,
			req.Subject, req.Object, req.Action, threshold)
		if err != nil {
			return nil, err
		}
		return []domfilter.ContextFilter{f}, nil
	}
	if req.KeywordsPath == "" {
		return nil, fmt.Errorf("%w: keywords file or subject and object required", domain.ErrInvalidInput)
	}
	f, err := os.Open(req.KeywordsPath)
	if err != nil {
		return nil, domain.NewStageError(domain.StageFilter, req.KeywordsPath, fmt.Errorf("%w: %w", domain.ErrIO, err))
	}
	defer f.Close()
	return e.filters.LoadKeywords(ctx, f, threshold)
}

// Process runs a zip upload of keywords and records and writes a results zip to w.
func (e *Engine) Process(ctx context.Context, req UploadRequest, w io.Writer) (UploadResult, error) {
	return e.uploads.Process(ctx, req, w)
}

// Health checks the catalog, the embedding provider, the cache and the archive.
func (e *Engine) Health(ctx context.Context) HealthReport {
	return e.health.Check(ctx)
}

// Usage reports token consumption for "day" or "month" (default).
func (e *Engine) Usage(ctx context.Context, period string) (UsageReport, error) {
	p, err := usageuc.ParsePeriod(period)
	if err != nil {
		return UsageReport{}, err
	}
	return e.usage.GetReport(ctx, p), nil
}

// Handler returns the HTTP API with auth, request logging and metrics.
func (e *Engine) Handler() http.Handler {
	srv := chiTransport.NewServer(e.uploads, e.datasets, e.health, e.usage, chiTransport.Options{
		TempDir:        e.cfg.Storage.TempDir,
		MaxUploadBytes: e.cfg.HTTP.MaxUploadMB << 20,
	}, e.logger)
	return chiTransport.NewRouter(srv, e.cfg.Auth.APIKeys, e.logger)
}

var _ datasetuc.Archive = (*archive.Service)(nil)
