package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/metrics"
)

// Defaults match sentence-transformers/all-MiniLM-L6-v2.
const (
	DefaultDimensions = 384
	DefaultMaxSeqLen  = 128
	provider          = "onnx"
)

var (
	inputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames = []string{"last_hidden_state"}
)

// Config holds the local model settings.
type Config struct {
	LibraryPath   string // onnxruntime shared library; empty uses the platform default
	ModelPath     string
	TokenizerPath string // HuggingFace tokenizer.json
	Model         string // label for metrics
	Dimensions    int
	MaxSeqLen     int
	Logger        *zap.Logger
}

// runner executes one forward pass over a [batch, seq] token grid and returns
// the flattened [batch, seq, dim] hidden states.
type runner interface {
	run(batch *encodedBatch, dim int) ([]float32, error)
	close() error
}

// Embedder runs a BERT-style encoder locally and mean-pools the last hidden
// state into L2-normalized sentence vectors.
type Embedder struct {
	tok    textEncoder
	run    runner
	dim    int
	maxLen int
	model  string
	mu     sync.Mutex // the session is not safe for concurrent Run
	logger *zap.Logger
}

// NewEmbedder loads the tokenizer and creates an ONNX session.
func NewEmbedder(cfg *Config) (*Embedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, errors.New("onnx: model and tokenizer paths are required")
	}
	tok, err := loadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}
	sess, err := newSession(cfg.LibraryPath, cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	return newEmbedder(cfg, tok, sess), nil
}

func newEmbedder(cfg *Config, tok textEncoder, r runner) *Embedder {
	e := &Embedder{
		tok:    tok,
		run:    r,
		dim:    cfg.Dimensions,
		maxLen: cfg.MaxSeqLen,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
	if e.dim <= 0 {
		e.dim = DefaultDimensions
	}
	if e.maxLen < 3 {
		e.maxLen = DefaultMaxSeqLen
	}
	if e.model == "" {
		e.model = "minilm"
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder with one forward pass per call.
// Token counts report real (unpadded) tokens.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	batch, err := encodeBatch(e.tok, texts, e.maxLen)
	if err != nil {
		e.fail("tokenize")
		return domain.BatchEmbeddingResult{}, fmt.Errorf("onnx tokenize: %w: %w", err, domain.ErrEmbeddingProviderError)
	}

	start := time.Now()
	e.mu.Lock()
	hidden, err := e.run.run(batch, e.dim)
	e.mu.Unlock()
	duration := time.Since(start)

	if err != nil {
		e.fail("inference")
		e.logger.Warn("onnx inference failed", zap.Int("batch", len(texts)), zap.Error(err))
		return domain.BatchEmbeddingResult{}, fmt.Errorf("onnx inference: %w: %w", err, domain.ErrEmbeddingProviderError)
	}
	if want := batch.rows * batch.seqLen * e.dim; len(hidden) != want {
		e.fail("shape")
		return domain.BatchEmbeddingResult{}, fmt.Errorf("onnx output has %d values, want %d: %w",
			len(hidden), want, domain.ErrEmbeddingProviderError)
	}

	embeddings := make([][]float32, batch.rows)
	for i := range batch.rows {
		v := meanPool(hidden, batch.mask, i, batch.seqLen, e.dim)
		l2Normalize(v)
		embeddings[i] = v
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, e.model).Observe(duration.Seconds())
	metrics.EmbeddingTokensTotal.WithLabelValues(provider, e.model, "total").Add(float64(batch.tokens))

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: batch.tokens,
		TotalTokens:  batch.tokens,
	}, nil
}

// HealthCheck embeds a fixed short text.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.Embed(ctx, "health"); err != nil {
		return fmt.Errorf("onnx health check: %w", err)
	}
	return nil
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.close()
}

func (e *Embedder) fail(kind string) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(provider, e.model, kind).Inc()
}

// session adapts ort.DynamicAdvancedSession to runner.
type session struct {
	s *ort.DynamicAdvancedSession
}

var (
	ortOnce sync.Once
	ortErr  error
)

func newSession(libPath, modelPath string) (*session, error) {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	if ortErr != nil {
		return nil, fmt.Errorf("onnx runtime init: %w", ortErr)
	}
	s, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx session %s: %w", modelPath, err)
	}
	return &session{s: s}, nil
}

func (s *session) run(b *encodedBatch, dim int) ([]float32, error) {
	shape := ort.NewShape(int64(b.rows), int64(b.seqLen))

	ids, err := ort.NewTensor(shape, b.ids)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer ids.Destroy()

	mask, err := ort.NewTensor(shape, b.mask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer mask.Destroy()

	types, err := ort.NewTensor(shape, b.types)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer types.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(b.rows), int64(b.seqLen), int64(dim)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.s.Run([]ort.Value{ids, mask, types}, []ort.Value{out}); err != nil {
		return nil, err
	}
	// GetData aliases tensor memory released by Destroy.
	return append([]float32(nil), out.GetData()...), nil
}

func (s *session) close() error {
	if s.s == nil {
		return nil
	}
	err := s.s.Destroy()
	s.s = nil
	return err
}
