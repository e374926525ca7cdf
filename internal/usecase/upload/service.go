// Package upload processes zip uploads holding a keyword file and a data file
// and returns the matches as a zip archive.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/metrics"
	"github.com/kailas-cloud/bitlens/internal/source"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline/sink"
)

// Output formats of the results file.
const (
	FormatLines = "csv"
	FormatJSON  = "json"
)

// DefaultFileName is assumed when the upload carries no file name.
const DefaultFileName = "unknown_0.zip"

// ResultsArchive is the name clients should save the response as.
const ResultsArchive = "results.zip"

// Request describes one upload.
type Request struct {
	Archive     io.ReaderAt
	Size        int64
	FileName    string // uploaded name; its trailing digit selects the column when Column < 0
	Column      int
	Format      string
	MaxDistance int
	MinScore    float64
}

// Result summarizes a processed upload.
type Result struct {
	Column      int
	KeywordFile string
	DataFile    string
	Filters     int
	Stats       pipeline.Stats
}

// Service runs uploads through filter loading and the pipeline.
type Service struct {
	filters FilterLoader
	runner  Runner
	tempDir string
	maxDist int
	minScr  float64
	logger  *zap.Logger
}

// New creates an upload service. tempDir "" uses the OS default.
func New(filters FilterLoader, runner Runner, tempDir string, logger *zap.Logger) *Service {
	return &Service{filters: filters, runner: runner, tempDir: tempDir, logger: logger}
}

// WithThreshold sets the threshold used when a request leaves both bounds zero.
func (s *Service) WithThreshold(maxDistance int, minScore float64) *Service {
	s.maxDist, s.minScr = maxDistance, minScore
	return s
}

// ColumnFromName returns the trailing digit of the file name stem, or 0.
func ColumnFromName(name string) int {
	stem := strings.TrimSuffix(path.Base(filepath.ToSlash(name)), path.Ext(name))
	if stem == "" {
		return 0
	}
	last := stem[len(stem)-1]
	if last < '0' || last > '9' {
		return 0
	}
	return int(last - '0')
}

// Process writes a zip holding one results file to w.
// Nothing is written to w when the upload is rejected before the pipeline starts.
func (s *Service) Process(ctx context.Context, req Request, w io.Writer) (Result, error) {
	res, err := s.process(ctx, req, w)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.UploadsTotal.WithLabelValues(status).Inc()
	return res, err
}

func (s *Service) process(ctx context.Context, req Request, w io.Writer) (Result, error) {
	if req.FileName == "" {
		req.FileName = DefaultFileName
	}
	if req.Column < 0 {
		req.Column = ColumnFromName(req.FileName)
	}
	format := req.Format
	if format == "" {
		format = FormatLines
	}
	if format != FormatLines && format != FormatJSON {
		return Result{}, fmt.Errorf("%w: unknown format %q", domain.ErrInvalidInput, format)
	}

	zr, err := zip.NewReader(req.Archive, req.Size)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read zip: %w", domain.ErrInvalidInput, err)
	}
	keywords, data, err := findInputs(zr.File)
	if err != nil {
		return Result{}, err
	}
	res := Result{Column: req.Column, KeywordFile: keywords.Name, DataFile: data.Name}

	if req.MaxDistance == 0 && req.MinScore == 0 {
		req.MaxDistance, req.MinScore = s.maxDist, s.minScr
	}
	threshold, err := s.filters.Threshold(req.MaxDistance, req.MinScore)
	if err != nil {
		return res, err
	}
	kr, err := keywords.Open()
	if err != nil {
		return res, fmt.Errorf("%w: open %s: %w", domain.ErrInvalidInput, keywords.Name, err)
	}
	filters, err := s.filters.LoadKeywords(ctx, kr, threshold)
	_ = kr.Close()
	if err != nil {
		return res, err
	}
	res.Filters = len(filters)

	dataPath, cleanup, err := s.extract(data)
	if err != nil {
		return res, err
	}
	defer cleanup()

	out := zip.NewWriter(w)
	entry, err := out.CreateHeader(&zip.FileHeader{
		Name:     "results." + format,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return res, fmt.Errorf("%w: create results entry: %w", domain.ErrIO, err)
	}

	var snk pipeline.Sink
	if format == FormatJSON {
		snk = sink.NewJSONSink(entry)
	} else {
		snk = sink.NewLineSink(entry)
	}
	src := &source.CSV{Path: dataPath, Column: req.Column, Header: true}

	res.Stats, err = s.runner.Run(ctx, src, snk, filters)
	if err != nil {
		return res, err
	}
	if err := out.Close(); err != nil {
		return res, fmt.Errorf("%w: finish zip: %w", domain.ErrIO, err)
	}

	s.logger.Info("Upload processed",
		zap.String("file", req.FileName),
		zap.String("keywords", keywords.Name),
		zap.String("data", data.Name),
		zap.Int("column", req.Column),
		zap.Int("filters", res.Filters),
		zap.Int64("records", res.Stats.Records),
		zap.Int64("matches", res.Stats.Matches),
	)
	return res, nil
}

// findInputs picks the keyword file (a CSV with "key" in its name) and the data
// file (any other CSV). Later entries of the same kind replace earlier ones.
func findInputs(files []*zip.File) (keywords, data *zip.File, err error) {
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		full := strings.ToLower(f.Name)
		if strings.Contains(full, "__macosx") || strings.Contains(full, ".ds_store") {
			continue
		}
		name := path.Base(full)
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		if strings.Contains(name, "key") {
			keywords = f
		} else {
			data = f
		}
	}
	if keywords == nil || data == nil {
		return nil, nil, fmt.Errorf(
			"%w: zip must contain two CSV files: one with 'key' in the name and one data file",
			domain.ErrInvalidInput)
	}
	return keywords, data, nil
}

// extract copies the data entry to a temp file so the CSV source can reopen it.
func (s *Service) extract(f *zip.File) (string, func(), error) {
	dir, err := os.MkdirTemp(s.tempDir, "bitlens-upload-")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	rc, err := f.Open()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: open %s: %w", domain.ErrInvalidInput, f.Name, err)
	}
	defer rc.Close()

	p := filepath.Join(dir, "data.csv")
	out, err := os.Create(p)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		cleanup()
		return "", nil, fmt.Errorf("%w: extract %s: %w", domain.ErrInvalidInput, f.Name, err)
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return p, cleanup, nil
}
