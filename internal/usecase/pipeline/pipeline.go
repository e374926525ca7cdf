// Package pipeline streams records from a source through batched embedding and
// quantization into a sink.
//
// One reader goroutine cuts fixed-size batches, N workers embed and quantize them,
// and a single writer goroutine hands results to the sink. A semaphore bounds the
// number of batches between reader and writer, so a slow sink blocks the reader.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/filter"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
	"github.com/kailas-cloud/bitlens/internal/metrics"
)

// Defaults.
const (
	DefaultFilterBatchSize = 64
	DefaultBakeBatchSize   = 256
	DefaultQueueCapacity   = 100
	DefaultProgressEvery   = 5000
)

// Mode labels a run for logs and metrics.
type Mode string

const (
	// ModeFilter matches records against context filters.
	ModeFilter Mode = "filter"
	// ModeBake fingerprints records for an index.
	ModeBake Mode = "bake"
)

// Config tunes a pipeline. Zero values select defaults.
type Config struct {
	BatchSize     int
	Workers       int
	QueueCapacity int
	ProgressEvery int64
	TieBreak      filter.TieBreak
}

// Stats summarizes a run.
type Stats struct {
	Records  int64
	Skipped  int64
	Batches  int64
	Matches  int64
	Duration time.Duration
}

// Pipeline runs ingestion jobs. Safe for concurrent Run calls.
type Pipeline struct {
	embedder  domain.Embedder
	quantizer Quantizer
	cfg       Config
	logger    *zap.Logger
}

// New creates a pipeline.
func New(embedder domain.Embedder, quantizer Quantizer, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	return &Pipeline{embedder: embedder, quantizer: quantizer, cfg: cfg, logger: logger}
}

// Quantizer returns the quantizer used for every record.
func (p *Pipeline) Quantizer() Quantizer { return p.quantizer }

type run struct {
	p       *Pipeline
	mode    Mode
	stage   string
	src     Source
	sink    Sink
	filters []filter.ContextFilter
	size    int

	records atomic.Int64
	batches atomic.Int64
	matches atomic.Int64
}

// Run streams src into sink. With filters it runs in filter mode and computes the
// best match per record; without it only fingerprints records. On any failure the
// sink is aborted; Run returns only after every goroutine has exited.
func (p *Pipeline) Run(ctx context.Context, src Source, sink Sink, filters []filter.ContextFilter) (Stats, error) {
	start := time.Now()
	r := &run{p: p, src: src, sink: sink, filters: filters, mode: ModeBake, stage: domain.StageBake}
	if len(filters) > 0 {
		r.mode, r.stage = ModeFilter, domain.StageIngest
	}
	r.size = p.cfg.BatchSize
	if r.size <= 0 {
		r.size = DefaultBakeBatchSize
		if r.mode == ModeFilter {
			r.size = DefaultFilterBatchSize
		}
	}

	err := r.validate()
	if err == nil {
		err = r.execute(ctx)
	}
	if err == nil {
		if cerr := sink.Commit(); cerr != nil {
			err = domain.NewStageError(r.stage, src.Name(), cerr)
		}
	}

	stats := Stats{
		Records:  r.records.Load(),
		Skipped:  src.Skipped(),
		Batches:  r.batches.Load(),
		Matches:  r.matches.Load(),
		Duration: time.Since(start),
	}
	metrics.PipelineRecordsTotal.WithLabelValues(string(r.mode), "skipped").Add(float64(stats.Skipped))

	if err != nil {
		sink.Abort()
		metrics.PipelineRunsTotal.WithLabelValues(string(r.mode), "error").Inc()
		p.logger.Error("Pipeline failed",
			zap.String("mode", string(r.mode)),
			zap.String("source", src.Name()),
			zap.Int64("records", stats.Records),
			zap.Duration("duration", stats.Duration),
			zap.Error(err),
		)
		return stats, err
	}

	metrics.PipelineRunsTotal.WithLabelValues(string(r.mode), "ok").Inc()
	p.logger.Info("Pipeline completed",
		zap.String("mode", string(r.mode)),
		zap.String("source", src.Name()),
		zap.Int64("records", stats.Records),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("batches", stats.Batches),
		zap.Int64("matches", stats.Matches),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (r *run) validate() error {
	words := r.p.quantizer.Words()
	for _, f := range r.filters {
		if len(f.Fingerprint()) != words {
			return domain.NewStageError(domain.StageFilter, f.Name(), fmt.Errorf(
				"%w: filter has %d words, quantizer produces %d",
				domain.ErrDimensionMismatch, len(f.Fingerprint()), words))
		}
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	inflight := make(chan struct{}, r.p.cfg.QueueCapacity)
	jobs := make(chan *Batch)
	results := make(chan *Batch, r.p.cfg.QueueCapacity)
	gauge := metrics.PipelineInFlight.WithLabelValues(string(r.mode))

	g.Go(func() error {
		defer close(jobs)
		return r.read(gctx, inflight, jobs, gauge)
	})

	var workers sync.WaitGroup
	for range r.p.cfg.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return r.work(gctx, jobs, results)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		return r.write(gctx, inflight, results, gauge)
	})

	return g.Wait()
}

func (r *run) read(ctx context.Context, inflight chan struct{}, jobs chan<- *Batch, gauge prometheus.Gauge) error {
	var seq int64
	batch := &Batch{Seq: seq}

	submit := func() error {
		select {
		case inflight <- struct{}{}:
			gauge.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case jobs <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		seq++
		batch = &Batch{Seq: seq}
		return nil
	}

	for rec, err := range r.src.Records(ctx) {
		if err != nil {
			return domain.NewStageError(r.stage, r.src.Name(), err)
		}
		r.records.Add(1)
		batch.Records = append(batch.Records, rec)
		if len(batch.Records) == r.size {
			if err := submit(); err != nil {
				return err
			}
		}
	}
	if len(batch.Records) > 0 {
		return submit()
	}
	return ctx.Err()
}

func (r *run) work(ctx context.Context, jobs <-chan *Batch, results chan<- *Batch) error {
	for b := range jobs {
		if err := r.compute(ctx, b); err != nil {
			return err
		}
		select {
		case results <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *run) compute(ctx context.Context, b *Batch) error {
	start := time.Now()

	vectors, err := domain.EmbedAll(ctx, r.p.embedder, b.texts())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, domain.ErrEmbeddingProviderError) {
			err = fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
		}
		return r.batchErr(b, err)
	}

	b.Fingerprints = make([]fingerprint.Fingerprint, len(vectors))
	if len(r.filters) > 0 {
		b.Matches = make([]filter.Match, len(vectors))
	}
	for i, v := range vectors {
		fp, err := r.p.quantizer.Quantize(v)
		if err != nil {
			return r.batchErr(b, err)
		}
		b.Fingerprints[i] = fp
		if b.Matches == nil {
			continue
		}
		m, ok := filter.Best(fp, r.p.quantizer.Bits(), r.filters, r.p.cfg.TieBreak)
		if !ok {
			m.Index = -1
		}
		b.Matches[i] = m
	}

	mode := string(r.mode)
	metrics.PipelineBatchesTotal.WithLabelValues(mode).Inc()
	metrics.PipelineBatchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	metrics.PipelineRecordsTotal.WithLabelValues(mode, "ok").Add(float64(len(b.Records)))
	return nil
}

func (r *run) batchErr(b *Batch, err error) error {
	var first int64 = -1
	if len(b.Records) > 0 {
		first = b.Records[0].Ordinal
	}
	return &domain.StageError{
		Stage:  r.stage,
		Path:   r.src.Name(),
		Record: first,
		Err:    fmt.Errorf("batch %d: %w", b.Seq, err),
	}
}

func (r *run) write(
	ctx context.Context, inflight <-chan struct{}, results <-chan *Batch, gauge prometheus.Gauge,
) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.NewStageError(r.stage, r.src.Name(), fmt.Errorf("%w: %v", domain.ErrWriterFault, rec))
		}
	}()

	var (
		next    int64
		pending = make(map[int64]*Batch)
		written int64
		mark    = r.p.cfg.ProgressEvery
		start   = time.Now()
	)

	emit := func(b *Batch) error {
		if werr := r.sink.Write(b); werr != nil {
			return domain.NewStageError(r.stage, r.src.Name(), werr)
		}
		<-inflight
		gauge.Dec()
		r.batches.Add(1)
		for i := range b.Matches {
			if b.Matches[i].Index >= 0 {
				r.matches.Add(1)
			}
		}
		written += int64(len(b.Records))
		if written >= mark {
			mark += r.p.cfg.ProgressEvery
			r.p.logger.Info("Pipeline progress",
				zap.String("mode", string(r.mode)),
				zap.Int64("records", written),
				zap.Float64("records_per_sec", float64(written)/time.Since(start).Seconds()),
			)
		}
		return nil
	}

	for b := range results {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.sink.Ordered() {
			if err := emit(b); err != nil {
				return err
			}
			continue
		}
		pending[b.Seq] = b
		for {
			nb, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := emit(nb); err != nil {
				return err
			}
			next++
		}
	}
	if len(pending) > 0 && ctx.Err() == nil {
		return domain.NewStageError(r.stage, r.src.Name(),
			fmt.Errorf("%w: %d batches never reached the writer in order", domain.ErrWriterFault, len(pending)))
	}
	return ctx.Err()
}
