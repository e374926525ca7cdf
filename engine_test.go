package bitlens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/bitlens/internal/config"
	"github.com/kailas-cloud/bitlens/internal/domain"
	healthuc "github.com/kailas-cloud/bitlens/internal/usecase/health"
)

// Vectors over 4 dims; "fruit" texts share a sign pattern.
var vectors = map[string][]float32{
	"fruit":        {1, 1, 1, -1},
	"apple":        {1, 1, 1, -1},
	"banana":       {1, 1, 1, -1},
	"ripe apple":   {1, 1, 1, 1},
	"steel bridge": {-1, -1, -1, 1},
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) vector(text string) []float32 {
	if v, ok := vectors[text]; ok {
		return v
	}
	return []float32{-1, -1, -1, -1}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	return EmbeddingResult{Embedding: f.vector(text), TotalTokens: 1}, nil
}

func (f *fakeEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Embedding: config.EmbeddingConfig{Provider: "openai", Model: "test", Dimensions: 4},
		Filter:    config.FilterConfig{MaxDistance: 1},
		Scan:      config.ScanConfig{MaxDistance: 2, Workers: 2},
		Pipeline:  config.PipelineConfig{Workers: 2, BatchSize: 2},
		Catalog:   config.CatalogConfig{Driver: "sqlite", DSN: filepath.Join(dir, "catalog", "bitlens.db")},
		Archive:   config.ArchiveConfig{Driver: "dir", Dir: filepath.Join(dir, "archive")},
		Storage:   config.StorageConfig{DataDir: filepath.Join(dir, "data"), TempDir: dir},
	}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := New(context.Background(), WithConfig(cfg), WithEmbedder(&fakeEmbedder{}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("close engine: %v", err)
		}
	})
	return eng
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func bakeFruit(t *testing.T, eng *Engine) {
	t.Helper()
	corpus := writeFile(t, "corpus.txt", "apple\nsteel bridge\nbanana\nripe apple\n")
	ds, stats, err := eng.Bake(context.Background(), "fruit", corpus, "")
	if err != nil {
		t.Fatalf("bake: %v", err)
	}
	if stats.Records != 4 || ds.Records() != 4 {
		t.Fatalf("expected 4 records, got stats %+v, dataset %d", stats, ds.Records())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = "bert"
	if _, err := New(context.Background(), WithConfig(cfg)); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNew_MissingConfigFile(t *testing.T) {
	_, err := New(context.Background(), WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEngine_Descriptor(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	d := eng.Descriptor()
	if d.Scheme != domain.SchemeSign || d.OutputDim != 4 {
		t.Errorf("unexpected descriptor %v", d)
	}
}

func TestEngine_BakeSearch(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	bakeFruit(t, eng)
	ctx := context.Background()

	res, err := eng.Search(ctx, "fruit", SearchRequest{Query: "fruit"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.MaxDistance != 2 {
		t.Errorf("expected configured max distance 2, got %d", res.MaxDistance)
	}
	want := []string{"apple", "banana", "ripe apple"}
	if len(res.Matches) != len(want) {
		t.Fatalf("expected %v, got %+v", want, res.Matches)
	}
	for i, m := range res.Matches {
		if m.Text != want[i] {
			t.Errorf("match %d: got %q, want %q", i, m.Text, want[i])
		}
	}

	list, err := eng.Datasets(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one dataset, got %v (%v)", list, err)
	}
	ds, err := eng.Dataset(ctx, "fruit")
	if err != nil {
		t.Fatalf("get dataset: %v", err)
	}
	if ds.Descriptor() != eng.Descriptor() {
		t.Errorf("dataset descriptor %v differs from engine %v", ds.Descriptor(), eng.Descriptor())
	}
}

func TestEngine_BakeTexts(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	_, stats, err := eng.BakeTexts(context.Background(), "mem", []string{"apple", "cloud"})
	if err != nil {
		t.Fatalf("bake: %v", err)
	}
	if stats.Records != 2 {
		t.Errorf("expected 2 records, got %+v", stats)
	}
}

func TestEngine_PublishFetchDelete(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	bakeFruit(t, eng)
	ctx := context.Background()

	ds, err := eng.Publish(ctx, "fruit")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !ds.Published() {
		t.Fatal("expected archive key after publish")
	}

	if err := eng.Delete(ctx, "fruit", false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := eng.Dataset(ctx, "fruit"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	fetched, err := eng.Fetch(ctx, "fruit")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.Records() != 4 {
		t.Errorf("expected 4 records, got %d", fetched.Records())
	}
	res, err := eng.Search(ctx, "fruit", SearchRequest{Query: "fruit", MaxDistance: 1})
	if err != nil {
		t.Fatalf("search fetched dataset: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Errorf("expected apple and banana, got %+v", res.Matches)
	}

	if err := eng.Delete(ctx, "fruit", true); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := eng.Fetch(ctx, "fruit"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after purge, got %v", err)
	}
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestEngine_Filter(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	keywords := writeFile(t, "keywords.csv", "category,anchor\nfruit,apple\nmetal,steel bridge\n")
	data := writeFile(t, "data.csv", "id,text\n1,banana\n2,steel bridge\n3,cloud\n")

	var out closeRecorder
	stats, err := eng.Filter(context.Background(), FilterRequest{
		DataPath: data, Column: "1", KeywordsPath: keywords,
	}, &out)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if stats.Records != 3 || stats.Matches != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if out.closed {
		t.Error("caller's writer must stay open")
	}
	body := out.String()
	if !strings.Contains(body, `fruit : 1.0000 : "banana"`) {
		t.Errorf("missing fruit match in %q", body)
	}
	if !strings.Contains(body, `metal : 1.0000 : "steel bridge"`) {
		t.Errorf("missing metal match in %q", body)
	}
	if strings.Contains(body, "cloud") {
		t.Errorf("cloud must not match: %q", body)
	}
}

func TestEngine_FilterJSON(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	keywords := writeFile(t, "keywords.csv", "category,anchor\nfruit,apple\n")
	data := writeFile(t, "data.jsonl", `{"text":"banana"}`+"\n"+`{"text":"cloud"}`+"\n")

	var out bytes.Buffer
	if _, err := eng.Filter(context.Background(), FilterRequest{
		DataPath: data, KeywordsPath: keywords, Format: FormatJSON,
	}, &out); err != nil {
		t.Fatalf("filter: %v", err)
	}
	var matches []struct {
		Category string `json:"matched_category"`
		Record   string `json:"original_record"`
	}
	if err := json.Unmarshal(out.Bytes(), &matches); err != nil {
		t.Fatalf("invalid json %q: %v", out.String(), err)
	}
	if len(matches) != 1 || matches[0].Record != "banana" {
		t.Errorf("unexpected matches %+v", matches)
	}
}

func TestEngine_FilterExpanded(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	data := writeFile(t, "data.txt", "cloud\nbanana\n")

	// Every expansion is unknown to the embedder, so the centroid is the all-negative vector.
	var out bytes.Buffer
	stats, err := eng.Filter(context.Background(), FilterRequest{
		DataPath: data, Subject: "man", Object: "knife", Action: "attack",
	}, &out)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if stats.Matches != 1 {
		t.Errorf("expected 1 match, got %+v", stats)
	}
	if !strings.HasPrefix(out.String(), ExpandedFilterName+" : ") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestEngine_FilterErrors(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	data := writeFile(t, "data.txt", "cloud\n")
	keywords := writeFile(t, "keywords.csv", "category,anchor\nfruit,apple\n")

	cases := map[string]FilterRequest{
		"no filters":    {DataPath: data},
		"bad format":    {DataPath: data, KeywordsPath: keywords, Format: "xml"},
		"bad input":     {DataPath: writeFile(t, "data.xlsx", "x"), KeywordsPath: keywords},
		"no object":     {DataPath: data, Subject: "man"},
		"bad min score": {DataPath: data, KeywordsPath: keywords, MinScore: 2},
	}
	for name, req := range cases {
		var out bytes.Buffer
		if _, err := eng.Filter(context.Background(), req, &out); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	var out bytes.Buffer
	_, err := eng.Filter(context.Background(), FilterRequest{
		DataPath: data, KeywordsPath: filepath.Join(t.TempDir(), "missing.csv"),
	}, &out)
	if !errors.Is(err, domain.ErrIO) {
		t.Errorf("expected ErrIO for missing keywords, got %v", err)
	}
}

func TestEngine_HealthUsage(t *testing.T) {
	eng := newEngine(t, testConfig(t))
	ctx := context.Background()

	report := eng.Health(ctx)
	if report.Status != healthuc.Healthy {
		t.Errorf("expected healthy, got %+v", report)
	}
	for _, c := range []string{healthuc.ComponentCatalog, healthuc.ComponentEmbedding, healthuc.ComponentArchive} {
		if report.Checks[c] != healthuc.CheckOK {
			t.Errorf("%s: expected ok, got %q", c, report.Checks[c])
		}
	}
	if _, ok := report.Checks[healthuc.ComponentCache]; ok {
		t.Error("cache is not configured and must not be reported")
	}

	usage, err := eng.Usage(ctx, "day")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Remaining != -1 {
		t.Errorf("expected unlimited budget, got %+v", usage)
	}
	if _, err := eng.Usage(ctx, "year"); err == nil {
		t.Error("expected error for unknown period")
	}
}

func TestEngine_Handler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.APIKeys = []string{"secret"}
	eng := newEngine(t, cfg)
	bakeFruit(t, eng)

	srv := httptest.NewServer(eng.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/datasets")
	if err != nil {
		t.Fatalf("get datasets: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("datasets without key: expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/datasets/fruit/search",
		strings.NewReader(`{"query":"fruit","max_distance":1}`))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Matches []struct {
			Text string `json:"text"`
		} `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Matches) != 2 {
		t.Errorf("expected 2 matches, got %+v", body.Matches)
	}
}
