package upload

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/quantize"
	"github.com/kailas-cloud/bitlens/internal/usecase/filter"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
)

var (
	violent  = []float32{1, 1, -1, -1}
	peaceful = []float32{-1, -1, 1, 1}
)

// mockEmbedder maps known texts to fixed vectors; everything else is peaceful.
type mockEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (m *mockEmbedder) vector(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		return v
	}
	return peaceful
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vector(text)}, nil
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

func newEmbedder() *mockEmbedder {
	return &mockEmbedder{vectors: map[string][]float32{
		"knife attack": violent,
		"gun fight":    violent,
		"a stabbing":   violent,
	}}
}

var errProvider = errors.New("provider down")

func newTestService(t *testing.T, emb *mockEmbedder) *Service {
	t.Helper()
	q, err := quantize.NewSign(4)
	if err != nil {
		t.Fatalf("new quantizer: %v", err)
	}
	logger := zap.NewNop()
	p := pipeline.New(emb, q, pipeline.Config{Workers: 2}, logger)
	return New(filter.New(emb, q, logger), p, t.TempDir(), logger)
}

// makeZip builds an in-memory zip from name/content pairs.
func makeZip(t *testing.T, files ...string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i+1 < len(files); i += 2 {
		w, err := zw.Create(files[i])
		if err != nil {
			t.Fatalf("create %s: %v", files[i], err)
		}
		if _, err := w.Write([]byte(files[i+1])); err != nil {
			t.Fatalf("write %s: %v", files[i], err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

// readResults returns the single entry of a results zip.
func readResults(t *testing.T, data []byte) (string, string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open results zip: %v", err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(zr.File))
	}
	f := zr.File[0]
	if f.Method != zip.Deflate {
		t.Errorf("expected deflate, got method %d", f.Method)
	}
	rc, err := f.Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(rc); err != nil {
		t.Fatalf("read entry: %v", err)
	}
	return f.Name, out.String()
}
