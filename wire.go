package bitlens

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/config"
	"github.com/kailas-cloud/bitlens/internal/db"
	dbRedis "github.com/kailas-cloud/bitlens/internal/db/redis"
	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/metrics"
	"github.com/kailas-cloud/bitlens/internal/repository/archive"
	minioStore "github.com/kailas-cloud/bitlens/internal/repository/archive/minio"
	s3Store "github.com/kailas-cloud/bitlens/internal/repository/archive/s3"
	budgetrepo "github.com/kailas-cloud/bitlens/internal/repository/budget"
	"github.com/kailas-cloud/bitlens/internal/repository/catalog/dynamo"
	"github.com/kailas-cloud/bitlens/internal/repository/catalog/sqlite"
	"github.com/kailas-cloud/bitlens/internal/repository/embcache"
	onnxEmb "github.com/kailas-cloud/bitlens/internal/transport/onnx"
	openaiEmb "github.com/kailas-cloud/bitlens/internal/transport/openai"
	datasetuc "github.com/kailas-cloud/bitlens/internal/usecase/dataset"
	embeddinguc "github.com/kailas-cloud/bitlens/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/bitlens/internal/usecase/health"
)

// catalog is the dataset catalog plus its lifecycle.
type catalog interface {
	datasetuc.Catalog
	Close() error
}

// objectStore is an archive backend that can report its health.
type objectStore interface {
	archive.ObjectStore
	healthuc.Pinger
}

func openCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (*dbRedis.Store, error) {
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache store: %w", err)
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("cache not ready: %w", err)
	}
	logger.Info("Connected to cache", zap.Strings("addrs", cfg.Addrs))
	return store, nil
}

// newBudget returns nil when no limit is configured.
func newBudget(
	ctx context.Context, cfg config.EmbeddingConfig, store db.Store, logger *zap.Logger,
) *embeddinguc.BudgetTracker {
	b := cfg.Budget
	if b.DailyTokenLimit <= 0 && b.MonthlyTokenLimit <= 0 {
		return nil
	}
	tracker := embeddinguc.NewBudgetTracker(cfg.Provider, embeddinguc.BudgetLimits{
		Daily:   b.DailyTokenLimit,
		Monthly: b.MonthlyTokenLimit,
		Action:  embeddinguc.BudgetAction(b.Action),
	}, logger)
	if store != nil {
		// Loads the current counters so limits hold across restarts.
		tracker.WithStore(ctx, budgetrepo.New(store))
	}
	return tracker
}

// newProvider builds the base embedder. The returned closer may be nil.
func newProvider(cfg config.EmbeddingConfig, logger *zap.Logger) (domain.Embedder, func() error, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			User:       cfg.OpenAI.User,
			Provider:   cfg.Provider,
			Logger:     logger,
		}), nil, nil
	case "onnx":
		e, err := onnxEmb.NewEmbedder(&onnxEmb.Config{
			LibraryPath:   cfg.ONNX.LibraryPath,
			ModelPath:     cfg.ONNX.ModelPath,
			TokenizerPath: cfg.ONNX.TokenizerPath,
			Model:         cfg.Model,
			Dimensions:    cfg.Dimensions,
			MaxSeqLen:     cfg.ONNX.MaxSeqLen,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create onnx embedder: %w", err)
		}
		return e, e.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// buildEmbedder assembles the decorator chain: provider -> RateLimited -> Cached -> Instrumented.
// Prefixes are applied on top by the caller so cache keys include them.
func buildEmbedder(
	base domain.Embedder,
	cfg config.EmbeddingConfig,
	store db.Store,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	embedder := base

	if cfg.RateLimit.RPS > 0 {
		embedder = embeddinguc.NewRateLimitedEmbedder(embedder, cfg.Provider, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	if store != nil {
		embedder = embcache.New(embedder, store, metrics.EmbeddingCacheTotal, logger,
			embcache.WithNamespace(cfg.Model),
			embcache.WithTTL(time.Duration(cfg.CacheTTLSec)*time.Second),
		)
	}

	return embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider, cfg.Model, budget, logger).
		WithMaxBatch(cfg.MaxBatch)
}

func withPrefix(e domain.Embedder, prefix string) domain.Embedder {
	if prefix == "" {
		return e
	}
	return domain.NewPrefixEmbedder(e, prefix)
}

func openCatalog(ctx context.Context, cfg config.CatalogConfig) (catalog, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := ensureParent(cfg.DSN); err != nil {
			return nil, err
		}
		c, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "dynamodb":
		client, err := dynamo.NewClient(ctx, cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("create dynamodb client: %w", err)
		}
		return dynamo.New(client, cfg.Table), nil
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

// ensureParent creates the directory of a file-backed sqlite DSN.
func ensureParent(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	return nil
}

// openArchive returns a nil service when archiving is disabled.
func openArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*archive.Service, objectStore, error) {
	var store objectStore
	switch cfg.Driver {
	case "none", "":
		return nil, nil, nil
	case "dir":
		s, err := archive.NewDirStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		store = s
	case "minio":
		s, err := minioStore.NewStore(minioStore.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		store = s
	case "s3":
		s3cfg := s3Store.Config{
			Region:      cfg.Region,
			Endpoint:    cfg.Endpoint,
			Bucket:      cfg.Bucket,
			PathStyle:   cfg.PathStyle,
			PartSize:    cfg.PartSizeMB << 20,
			Concurrency: cfg.Concurrency,
		}
		client, err := s3Store.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		store = s3Store.NewStore(client, s3cfg)
	default:
		return nil, nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}

	codec, err := archive.NewCodec(cfg.Compression)
	if err != nil {
		return nil, nil, err
	}
	return archive.New(store, codec, cfg.Prefix, logger), store, nil
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
