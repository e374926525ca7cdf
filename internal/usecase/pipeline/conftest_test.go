package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"iter"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/record"
	"github.com/kailas-cloud/bitlens/internal/quantize"
)

const testDim = 8

// vectorFor derives a deterministic ±1 vector from the text hash.
func vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	v := make([]float32, testDim)
	for i := range v {
		if sum&(1<<i) != 0 {
			v[i] = 1
		} else {
			v[i] = -1
		}
	}
	return v
}

// mockEmbedder embeds via vectorFor; delay(first ordinal text) lets tests reorder completions.
type mockEmbedder struct {
	err   error
	delay func(texts []string) time.Duration
	calls atomic.Int64
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: vectorFor(text)}, m.err
}

func (m *mockEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.calls.Add(1)
	if m.delay != nil {
		select {
		case <-time.After(m.delay(texts)):
		case <-ctx.Done():
			return domain.BatchEmbeddingResult{}, ctx.Err()
		}
	}
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

// mockSource yields "0".."n-1" and optionally fails after failAt records.
type mockSource struct {
	n       int
	failAt  int
	err     error
	yielded atomic.Int64
}

func (s *mockSource) Name() string   { return "mock" }
func (s *mockSource) Skipped() int64 { return 2 }

func (s *mockSource) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for i := range s.n {
			if s.err != nil && i == s.failAt {
				yield(record.Record{}, s.err)
				return
			}
			if ctx.Err() != nil {
				yield(record.Record{}, ctx.Err())
				return
			}
			s.yielded.Add(1)
			if !yield(record.Record{Ordinal: int64(i), Text: strconv.Itoa(i)}, nil) {
				return
			}
		}
	}
}

// recordingSink captures batches in write order.
type recordingSink struct {
	ordered   bool
	mu        sync.Mutex
	batches   []*Batch
	writeErr  error
	panicOn   int64
	block     chan struct{}
	committed bool
	aborted   bool
}

func (s *recordingSink) Ordered() bool { return s.ordered }

func (s *recordingSink) Write(b *Batch) error {
	if s.block != nil {
		<-s.block
	}
	if s.panicOn > 0 && b.Seq == s.panicOn {
		panic("disk on fire")
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Commit() error { s.committed = true; return nil }
func (s *recordingSink) Abort()        { s.aborted = true }

func (s *recordingSink) texts() []string {
	var out []string
	for _, b := range s.batches {
		for _, r := range b.Records {
			out = append(out, r.Text)
		}
	}
	return out
}

var errProvider = errors.New("provider down")

func newTestPipeline(t *testing.T, emb domain.Embedder, cfg Config) *Pipeline {
	t.Helper()
	q, err := quantize.NewSign(testDim)
	if err != nil {
		t.Fatalf("new quantizer: %v", err)
	}
	return New(emb, q, cfg, zap.NewNop())
}
