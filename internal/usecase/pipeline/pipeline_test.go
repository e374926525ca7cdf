package pipeline

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/filter"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

func TestRun_OrderedSinkSeesInputOrder(t *testing.T) {
	// Later batches finish first.
	emb := &mockEmbedder{delay: func(texts []string) time.Duration {
		n, _ := strconv.Atoi(texts[0])
		return time.Duration(200-n%200) * 10 * time.Microsecond
	}}
	p := newTestPipeline(t, emb, Config{BatchSize: 7, Workers: 4, QueueCapacity: 5})
	src := &mockSource{n: 1000}
	sink := &recordingSink{ordered: true}

	stats, err := p.Run(context.Background(), src, sink, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := sink.texts()
	if len(got) != 1000 {
		t.Fatalf("expected 1000 records, got %d", len(got))
	}
	for i, text := range got {
		if text != strconv.Itoa(i) {
			t.Fatalf("record %d out of order: %q", i, text)
		}
	}
	for i, b := range sink.batches {
		if b.Seq != int64(i) {
			t.Fatalf("batch %d has seq %d", i, b.Seq)
		}
		if len(b.Fingerprints) != len(b.Records) {
			t.Fatalf("batch %d: %d fingerprints for %d records", i, len(b.Fingerprints), len(b.Records))
		}
		if b.Matches != nil {
			t.Fatalf("bake batches must not carry matches")
		}
	}
	if stats.Records != 1000 || stats.Batches != 143 || stats.Skipped != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if emb.calls.Load() != 143 {
		t.Errorf("expected one embed call per batch, got %d", emb.calls.Load())
	}
	if !sink.committed || sink.aborted {
		t.Errorf("expected commit without abort, committed=%v aborted=%v", sink.committed, sink.aborted)
	}
}

func TestRun_UnorderedSinkGetsEveryBatch(t *testing.T) {
	p := newTestPipeline(t, &mockEmbedder{}, Config{BatchSize: 10, Workers: 3})
	sink := &recordingSink{}

	_, err := p.Run(context.Background(), &mockSource{n: 95}, sink, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := make(map[string]bool)
	for _, text := range sink.texts() {
		seen[text] = true
	}
	if len(seen) != 95 {
		t.Errorf("expected 95 distinct records, got %d", len(seen))
	}
}

func TestRun_FilterModeComputesBestMatch(t *testing.T) {
	p := newTestPipeline(t, &mockEmbedder{}, Config{Workers: 2})

	mk := func(name string, word uint64) filter.ContextFilter {
		th, _ := filter.MaxDistance(3)
		f, err := filter.New(name, fingerprint.Fingerprint{word}, th)
		if err != nil {
			t.Fatalf("new filter: %v", err)
		}
		return f
	}
	filters := []filter.ContextFilter{mk("low", 0x0F), mk("high", 0xF0)}
	sink := &recordingSink{}

	stats, err := p.Run(context.Background(), &mockSource{n: 300}, sink, filters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var want int64
	for _, b := range sink.batches {
		if len(b.Records) > DefaultFilterBatchSize {
			t.Fatalf("batch of %d exceeds filter default", len(b.Records))
		}
		for i, fp := range b.Fingerprints {
			exp, ok := filter.Best(fp, testDim, filters, filter.FirstDeclared)
			got, gotOK := b.Match(i)
			if ok != gotOK || (ok && exp != got) {
				t.Fatalf("record %s: expected %+v/%v, got %+v/%v", b.Records[i].Text, exp, ok, got, gotOK)
			}
			if ok && got.Score != fingerprint.Score(got.Distance, testDim) {
				t.Fatalf("record %s: score %.4f not over %d bits", b.Records[i].Text, got.Score, testDim)
			}
			if ok {
				want++
			}
		}
	}
	if stats.Matches != want {
		t.Errorf("expected %d matches, got %d", want, stats.Matches)
	}
}

func TestRun_ProviderErrorAborts(t *testing.T) {
	p := newTestPipeline(t, &mockEmbedder{err: errProvider}, Config{BatchSize: 4, Workers: 2})
	sink := &recordingSink{}

	_, err := p.Run(context.Background(), &mockSource{n: 50}, sink, nil)
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
	if !errors.Is(err, errProvider) {
		t.Errorf("expected provider cause, got %v", err)
	}
	var se *domain.StageError
	if !errors.As(err, &se) || se.Stage != domain.StageBake {
		t.Errorf("expected bake StageError, got %v", err)
	}
	if !sink.aborted || sink.committed {
		t.Errorf("expected abort without commit, committed=%v aborted=%v", sink.committed, sink.aborted)
	}
}

func TestRun_ProviderErrorCarriesFilterStage(t *testing.T) {
	th, _ := filter.MaxDistance(3)
	f, err := filter.New("any", fingerprint.Fingerprint{0}, th)
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	p := newTestPipeline(t, &mockEmbedder{err: errProvider}, Config{BatchSize: 4, Workers: 2})

	_, err = p.Run(context.Background(), &mockSource{n: 20}, &recordingSink{}, []filter.ContextFilter{f})
	var se *domain.StageError
	if !errors.As(err, &se) || se.Stage != domain.StageIngest {
		t.Fatalf("expected ingest StageError, got %v", err)
	}
	if se.Record < 0 {
		t.Errorf("expected first record ordinal, got %d", se.Record)
	}
}

func TestRun_WriterPanicBecomesWriterFault(t *testing.T) {
	p := newTestPipeline(t, &mockEmbedder{}, Config{BatchSize: 2, Workers: 2})
	sink := &recordingSink{ordered: true, panicOn: 3}

	_, err := p.Run(context.Background(), &mockSource{n: 40}, sink, nil)
	if !errors.Is(err, domain.ErrWriterFault) {
		t.Fatalf("expected ErrWriterFault, got %v", err)
	}
	if !sink.aborted {
		t.Error("expected sink to be aborted")
	}
}

func TestRun_WriterErrorAborts(t *testing.T) {
	errDisk := errors.New("disk full")
	p := newTestPipeline(t, &mockEmbedder{}, Config{BatchSize: 2})
	sink := &recordingSink{writeErr: errDisk}

	_, err := p.Run(context.Background(), &mockSource{n: 40}, sink, nil)
	if !errors.Is(err, errDisk) {
		t.Fatalf("expected disk error, got %v", err)
	}
	if !sink.aborted {
		t.Error("expected sink to be aborted")
	}
}

func TestRun_SourceErrorAborts(t *testing.T) {
	errRead := errors.New("read failed")
	p := newTestPipeline(t, &mockEmbedder{}, Config{BatchSize: 4})
	sink := &recordingSink{}

	_, err := p.Run(context.Background(), &mockSource{n: 40, failAt: 10, err: errRead}, sink, nil)
	if !errors.Is(err, errRead) {
		t.Fatalf("expected read error, got %v", err)
	}
	if !sink.aborted {
		t.Error("expected sink to be aborted")
	}
}

func TestRun_Backpressure(t *testing.T) {
	p := newTestPipeline(t, &mockEmbedder{}, Config{BatchSize: 1, Workers: 4, QueueCapacity: 2})
	src := &mockSource{n: 100}
	sink := &recordingSink{block: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), src, sink, nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	// two batches in flight plus the one the reader is trying to submit
	if got := src.yielded.Load(); got > 3 {
		t.Errorf("reader ran ahead of the writer: %d records read", got)
	}
	close(sink.block)

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.texts()) != 100 {
		t.Errorf("expected 100 records, got %d", len(sink.texts()))
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, &mockEmbedder{}, Config{})
	sink := &recordingSink{}
	_, err := p.Run(ctx, &mockSource{n: 10}, sink, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !sink.aborted {
		t.Error("expected sink to be aborted")
	}
}

func TestRun_FilterWidthMismatch(t *testing.T) {
	th, _ := filter.MaxDistance(3)
	wide, err := filter.New("wide", fingerprint.Fingerprint{1, 2}, th)
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	p := newTestPipeline(t, &mockEmbedder{}, Config{})
	sink := &recordingSink{}

	_, err = p.Run(context.Background(), &mockSource{n: 10}, sink, []filter.ContextFilter{wide})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if !sink.aborted {
		t.Error("expected sink to be aborted")
	}
}

func TestRun_EmptySourceCommits(t *testing.T) {
	p := newTestPipeline(t, &mockEmbedder{}, Config{})
	sink := &recordingSink{ordered: true}

	stats, err := p.Run(context.Background(), &mockSource{n: 0}, sink, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Records != 0 || stats.Batches != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !sink.committed {
		t.Error("expected empty run to commit")
	}
}
