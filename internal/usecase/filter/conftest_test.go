package filter

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/quantize"
)

// mockEmbedder returns a fixed vector per text (or a default) and counts batch calls.
type mockEmbedder struct {
	vectors    map[string][]float32
	fallback   []float32
	err        error
	batchCalls int
	batches    [][]string
}

func (m *mockEmbedder) vector(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		return v
	}
	return m.fallback
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vector(text)}, nil
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.batches = append(m.batches, texts)
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

var errProvider = errors.New("provider down")

func newTestService(t *testing.T, emb *mockEmbedder) *Service {
	t.Helper()
	q, err := quantize.NewSign(4)
	if err != nil {
		t.Fatalf("new quantizer: %v", err)
	}
	return New(emb, q, zap.NewNop())
}
