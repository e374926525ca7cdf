package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/bitlens/internal/domain"
	domds "github.com/kailas-cloud/bitlens/internal/domain/dataset"
	"github.com/kailas-cloud/bitlens/internal/quantize"
	"github.com/kailas-cloud/bitlens/internal/source"
)

var corpus = []string{"apple", "steel bridge", "banana", "ripe apple", "apple"}

func bake(t *testing.T, f *fixture, name string) {
	t.Helper()
	if _, _, err := f.svc.Bake(context.Background(), name, source.NewSlice("corpus", corpus...)); err != nil {
		t.Fatalf("bake %s: %v", name, err)
	}
}

func TestBake_RegistersDataset(t *testing.T) {
	f := newFixture(t, false)

	ds, stats, err := f.svc.Bake(context.Background(), "fruit", source.NewSlice("corpus", corpus...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Records != 5 || stats.Batches != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if ds.Records() != 5 {
		t.Errorf("expected 5 records, got %d", ds.Records())
	}
	if ds.BlobBytes() != uint64(len("applesteel bridgebananaripe appleapple")) {
		t.Errorf("unexpected blob size %d", ds.BlobBytes())
	}
	if ds.IndexPath() != filepath.Join(f.dataDir, "fruit.idx") {
		t.Errorf("unexpected index path %q", ds.IndexPath())
	}
	if ds.Descriptor().Scheme != domain.SchemeSign || ds.Descriptor().OutputDim != 4 {
		t.Errorf("unexpected descriptor %v", ds.Descriptor())
	}

	got, err := f.svc.Get(context.Background(), "fruit")
	if err != nil {
		t.Fatalf("catalog lookup: %v", err)
	}
	if got.Records() != 5 {
		t.Errorf("catalog has %d records", got.Records())
	}
}

func TestBake_InvalidName(t *testing.T) {
	f := newFixture(t, false)
	_, _, err := f.svc.Bake(context.Background(), "../etc", source.NewSlice("corpus", corpus...))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBake_ProviderErrorLeavesNothing(t *testing.T) {
	f := newFixture(t, false)
	f.emb.err = errProvider

	_, _, err := f.svc.Bake(context.Background(), "fruit", source.NewSlice("corpus", corpus...))
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
	entries, _ := os.ReadDir(f.dataDir)
	if len(entries) != 0 {
		t.Errorf("expected no files after failed bake, got %d", len(entries))
	}
	if _, err := f.svc.Get(context.Background(), "fruit"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("failed bake must not register, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t, false)
	bake(t, f, "fruit")

	res, err := f.svc.Search(context.Background(), "fruit", SearchRequest{Query: "fruit", MaxDistance: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// apple and banana are at distance 0, ripe apple at 1; duplicates collapse.
	if len(res.Matches) != 3 {
		t.Fatalf("expected 3 matches, got %+v", res.Matches)
	}
	if res.Matches[0].Text != "apple" || res.Matches[1].Text != "banana" || res.Matches[2].Text != "ripe apple" {
		t.Errorf("unexpected order %+v", res.Matches)
	}
	if res.Entries.GetCardinality() != 4 {
		t.Errorf("expected 4 matching entries, got %d", res.Entries.GetCardinality())
	}
	// Scores use the 4-bit quantizer width, not the padded word.
	if res.Matches[2].Score != 0.75 {
		t.Errorf("expected ripe apple score 0.75, got %v", res.Matches[2].Score)
	}
	if res.MaxDistance != 2 || res.Dataset != "fruit" {
		t.Errorf("unexpected result header %+v", res)
	}
}

func TestSearch_Limit(t *testing.T) {
	f := newFixture(t, false)
	bake(t, f, "fruit")

	res, err := f.svc.Search(context.Background(), "fruit", SearchRequest{Query: "fruit", MaxDistance: 2, Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Text != "apple" {
		t.Errorf("unexpected matches %+v", res.Matches)
	}
}

func TestSearch_Defaults(t *testing.T) {
	f := newFixture(t, false)
	bake(t, f, "fruit")
	f.svc.WithSearchDefaults(1, 0, 0)

	res, err := f.svc.Search(context.Background(), "fruit", SearchRequest{Query: "fruit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MaxDistance != 1 || len(res.Matches) != 2 {
		t.Errorf("expected apple and banana below distance 1, got %+v", res.Matches)
	}

	f.svc.WithSearchDefaults(2, 0, 1)
	res, err = f.svc.Search(context.Background(), "fruit", SearchRequest{Query: "fruit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("expected default limit 1, got %+v", res.Matches)
	}

	res, err = f.svc.Search(context.Background(), "fruit", SearchRequest{Query: "fruit", MaxDistance: 2, Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matches) != 3 {
		t.Errorf("explicit bounds must win over defaults, got %+v", res.Matches)
	}
}

func TestSearch_SchemeMismatch(t *testing.T) {
	f := newFixture(t, false)
	bake(t, f, "fruit")

	ds, _ := f.catalog.Get(context.Background(), "fruit")
	other, err := quantize.NewProjection(4, 64, 7)
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}
	f.catalog.items["fruit"] = domds.Reconstruct(ds.Name(), ds.IndexPath(), ds.BlobPath(),
		ds.Records(), ds.BlobBytes(), other.Descriptor(), ds.CreatedAt(), "")

	_, err = f.svc.Search(context.Background(), "fruit", SearchRequest{Query: "fruit", MaxDistance: 2})
	if !errors.Is(err, domain.ErrSchemeMismatch) {
		t.Fatalf("expected ErrSchemeMismatch, got %v", err)
	}
}

func TestSearch_UnknownDataset(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Search(context.Background(), "nope", SearchRequest{Query: "x", MaxDistance: 2})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearch_NoAnchors(t *testing.T) {
	f := newFixture(t, false)
	bake(t, f, "fruit")
	_, err := f.svc.Search(context.Background(), "fruit", SearchRequest{MaxDistance: 2})
	if !errors.Is(err, domain.ErrEmptyAnchorSet) {
		t.Fatalf("expected ErrEmptyAnchorSet, got %v", err)
	}
}

func TestPublishFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	bake(t, f, "fruit")

	pub, err := f.svc.Publish(ctx, "fruit")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.ArchiveKey() != "datasets/fruit" {
		t.Errorf("unexpected archive key %q", pub.ArchiveKey())
	}

	// A second host: empty catalog and data dir, same archive.
	g := newFixture(t, false)
	g.svc.archive = f.svc.archive

	got, err := g.svc.Fetch(ctx, "fruit")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.IndexPath() != filepath.Join(g.dataDir, "fruit.idx") {
		t.Errorf("unexpected path %q", got.IndexPath())
	}
	res, err := g.svc.Search(ctx, "fruit", SearchRequest{Query: "fruit", MaxDistance: 1})
	if err != nil {
		t.Fatalf("search fetched dataset: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Errorf("expected 2 matches, got %+v", res.Matches)
	}
}

func TestPublish_NoArchive(t *testing.T) {
	f := newFixture(t, false)
	bake(t, f, "fruit")
	if _, err := f.svc.Publish(context.Background(), "fruit"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Fetch(context.Background(), "fruit"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFetch_NotPublished(t *testing.T) {
	f := newFixture(t, true)
	if _, err := f.svc.Fetch(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	bake(t, f, "fruit")
	if _, err := f.svc.Publish(ctx, "fruit"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := f.svc.Delete(ctx, "fruit", true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.dataDir, "fruit.idx")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("index file should be removed, stat err %v", err)
	}
	if _, err := f.store.Get(ctx, "datasets/fruit/manifest.json"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("archived manifest should be removed, got %v", err)
	}
	if err := f.svc.Delete(ctx, "fruit", false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t, false)
	bake(t, f, "b")
	bake(t, f, "a")

	all, err := f.svc.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].Name() != "a" {
		t.Errorf("unexpected list %v", all)
	}
}
