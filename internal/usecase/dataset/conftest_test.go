package dataset

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	domds "github.com/kailas-cloud/bitlens/internal/domain/dataset"
	"github.com/kailas-cloud/bitlens/internal/quantize"
	"github.com/kailas-cloud/bitlens/internal/repository/archive"
	"github.com/kailas-cloud/bitlens/internal/usecase/filter"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
	"github.com/kailas-cloud/bitlens/internal/usecase/scan"
)

// Vectors over 4 dims; "fruit" texts share a sign pattern.
var vectors = map[string][]float32{
	"apple":        {1, 1, 1, -1},
	"banana":       {1, 1, 1, -1},
	"ripe apple":   {1, 1, 1, 1},
	"steel bridge": {-1, -1, -1, 1},
	"fruit":        {1, 1, 1, -1},
}

type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) vector(text string) []float32 {
	if v, ok := vectors[text]; ok {
		return v
	}
	return []float32{-1, -1, -1, -1}
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

// mockCatalog is an in-memory catalog.
type mockCatalog struct {
	mu      sync.Mutex
	items   map[string]domds.Dataset
	putErr  error
	pingErr error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{items: map[string]domds.Dataset{}}
}

func (m *mockCatalog) Put(_ context.Context, ds domds.Dataset) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ds.Name()] = ds
	return nil
}

func (m *mockCatalog) Get(_ context.Context, name string) (domds.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.items[name]
	if !ok {
		return domds.Dataset{}, domain.ErrNotFound
	}
	return ds, nil
}

func (m *mockCatalog) List(_ context.Context) ([]domds.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domds.Dataset, 0, len(m.items))
	for _, ds := range m.items {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (m *mockCatalog) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[name]; !ok {
		return domain.ErrNotFound
	}
	delete(m.items, name)
	return nil
}

func (m *mockCatalog) Ping(_ context.Context) error { return m.pingErr }

var errProvider = errors.New("provider down")

type fixture struct {
	svc     *Service
	catalog *mockCatalog
	emb     *mockEmbedder
	store   *archive.DirStore
	dataDir string
}

func newFixture(t *testing.T, withArchive bool) *fixture {
	t.Helper()
	q, err := quantize.NewSign(4)
	if err != nil {
		t.Fatalf("new quantizer: %v", err)
	}
	logger := zap.NewNop()
	emb := &mockEmbedder{}
	f := &fixture{catalog: newMockCatalog(), emb: emb, dataDir: t.TempDir()}

	var arch Archive
	if withArchive {
		f.store, err = archive.NewDirStore(t.TempDir())
		if err != nil {
			t.Fatalf("new dir store: %v", err)
		}
		codec, err := archive.NewCodec(archive.CompressionZstd)
		if err != nil {
			t.Fatalf("new codec: %v", err)
		}
		arch = archive.New(f.store, codec, "datasets", logger)
	}

	p := pipeline.New(emb, q, pipeline.Config{Workers: 2, BatchSize: 2}, logger)
	f.svc = New(f.catalog, arch, p, scan.New(2, logger), filter.New(emb, q, logger), f.dataDir, logger)
	return f
}
