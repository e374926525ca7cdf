package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	domds "github.com/kailas-cloud/bitlens/internal/domain/dataset"
	datasetuc "github.com/kailas-cloud/bitlens/internal/usecase/dataset"
	healthuc "github.com/kailas-cloud/bitlens/internal/usecase/health"
	uploaduc "github.com/kailas-cloud/bitlens/internal/usecase/upload"
	usageuc "github.com/kailas-cloud/bitlens/internal/usecase/usage"
)

// DefaultMaxUploadBytes caps a /process body when Options leaves it unset.
const DefaultMaxUploadBytes = 512 << 20

// Options tunes the server.
type Options struct {
	TempDir        string // spool directory for uploads and results; "" uses the OS default
	MaxUploadBytes int64
}

// Server serves the bitlens HTTP API.
type Server struct {
	uploads       Uploader
	datasets      Datasets
	health        HealthChecker
	usage         UsageReporter
	opts          Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. usage may be nil.
func NewServer(
	uploads Uploader,
	datasets Datasets,
	health HealthChecker,
	usage UsageReporter,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		uploads:       uploads,
		datasets:      datasets,
		health:        health,
		usage:         usage,
		opts:          opts,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Routes mounts every endpoint on r.
func (s *Server) Routes(r chirouter.Router) {
	r.Post("/process", s.Process)
	r.Post("/search", s.Search)
	r.Get("/datasets", s.ListDatasets)
	r.Get("/datasets/{name}", s.GetDataset)
	r.Post("/datasets/{name}/search", s.Search)
	r.Get("/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Process handles POST /process: a multipart zip upload answered with results.zip.
//
// Query parameters: column (defaults to the trailing digit of the uploaded file
// name), format (csv | json), max_distance, min_score.
func (s *Server) Process(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "expected a multipart/form-data body")
		return
	}

	req, err := parseUploadParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	in, name, size, err := s.receiveZip(mr)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	defer s.discard(in)
	req.Archive, req.Size, req.FileName = in, size, name

	// Results are spooled so a failed run can still answer with a JSON error.
	out, err := os.CreateTemp(s.opts.TempDir, "bitlens-results-*.zip")
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrIO, err))
		return
	}
	defer s.discard(out)

	res, err := s.uploads.Process(r.Context(), req, out)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	n, err := out.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = out.Seek(0, io.SeekStart)
	}
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrIO, err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", `attachment; filename="`+uploaduc.ResultsArchive+`"`)
	h.Set("Content-Length", strconv.FormatInt(n, 10))
	h.Set("X-Bitlens-Column", strconv.Itoa(res.Column))
	h.Set("X-Bitlens-Records", strconv.FormatInt(res.Stats.Records, 10))
	h.Set("X-Bitlens-Matches", strconv.FormatInt(res.Stats.Matches, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, out); err != nil {
		s.logger.Warn("Failed to stream results", zap.Error(err))
	}
}

func parseUploadParams(q url.Values) (uploaduc.Request, error) {
	req := uploaduc.Request{Column: -1, Format: q.Get("format")}
	var err error
	if v := q.Get("column"); v != "" {
		if req.Column, err = strconv.Atoi(v); err != nil || req.Column < 0 {
			return req, fmt.Errorf("column must be a non-negative integer, got %q", v)
		}
	}
	if v := q.Get("max_distance"); v != "" {
		if req.MaxDistance, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("max_distance must be an integer, got %q", v)
		}
	}
	if v := q.Get("min_score"); v != "" {
		if req.MinScore, err = strconv.ParseFloat(v, 64); err != nil {
			return req, fmt.Errorf("min_score must be a number, got %q", v)
		}
	}
	return req, nil
}

// receiveZip spools the last file part of the form to disk.
func (s *Server) receiveZip(mr *multipart.Reader) (*os.File, string, int64, error) {
	var (
		f    *os.File
		name string
		size int64
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.discard(f)
			return nil, "", 0, fmt.Errorf("%w: read multipart: %w", domain.ErrInvalidInput, err)
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		s.discard(f)
		if f, err = os.CreateTemp(s.opts.TempDir, "bitlens-upload-*.zip"); err != nil {
			return nil, "", 0, fmt.Errorf("%w: %w", domain.ErrIO, err)
		}
		name = part.FileName()
		size, err = io.Copy(f, part)
		_ = part.Close()
		if err != nil {
			s.discard(f)
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, "", 0, err
			}
			return nil, "", 0, fmt.Errorf("%w: read upload: %w", domain.ErrInvalidInput, err)
		}
	}
	if f == nil {
		return nil, "", 0, fmt.Errorf("%w: no zip file uploaded", domain.ErrInvalidInput)
	}
	return f, name, size, nil
}

func (s *Server) discard(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove spool file", zap.String("path", f.Name()), zap.Error(err))
	}
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Dataset     string   `json:"dataset"`
	Query       string   `json:"query"`
	Anchors     []string `json:"anchors"`
	MaxDistance int      `json:"max_distance"`
	MinScore    float64  `json:"min_score"`
	Limit       int      `json:"limit"`
}

// SearchMatch is one retained record.
type SearchMatch struct {
	Text     string  `json:"text"`
	Distance int     `json:"hamming_distance"`
	Score    float64 `json:"score"`
	Ordinal  int     `json:"ordinal"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Dataset     string        `json:"dataset"`
	Fingerprint string        `json:"fingerprint"`
	MaxDistance int           `json:"max_distance"`
	Scanned     int           `json:"scanned"`
	Dropped     int           `json:"dropped"`
	Total       uint64        `json:"total"`
	Matches     []SearchMatch `json:"matches"`
}

// Search handles POST /search and POST /datasets/{name}/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if name := chirouter.URLParam(r, "name"); name != "" {
		req.Dataset = name
	}
	if req.Dataset == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "dataset is required")
		return
	}
	if req.Query == "" && len(req.Anchors) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "query or anchors are required")
		return
	}

	res, err := s.datasets.Search(r.Context(), req.Dataset, datasetuc.SearchRequest{
		Query:       req.Query,
		Anchors:     req.Anchors,
		MaxDistance: req.MaxDistance,
		MinScore:    req.MinScore,
		Limit:       req.Limit,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := SearchResponse{
		Dataset:     res.Dataset,
		Fingerprint: res.Fingerprint.String(),
		MaxDistance: res.MaxDistance,
		Scanned:     res.Scanned,
		Dropped:     res.Dropped,
		Matches:     make([]SearchMatch, len(res.Matches)),
	}
	if res.Entries != nil {
		resp.Total = res.Entries.GetCardinality()
	}
	for i, m := range res.Matches {
		resp.Matches[i] = SearchMatch{Text: m.Text, Distance: m.Distance, Score: m.Score, Ordinal: m.Ordinal}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DatasetResponse describes a registered dataset.
type DatasetResponse struct {
	Name       string            `json:"name"`
	Records    int64             `json:"records"`
	BlobBytes  uint64            `json:"blob_bytes"`
	Quantizer  domain.Descriptor `json:"quantizer"`
	CreatedAt  time.Time         `json:"created_at"`
	Published  bool              `json:"published"`
	ArchiveKey string            `json:"archive_key,omitempty"`
}

func datasetToResponse(d domds.Dataset) DatasetResponse {
	return DatasetResponse{
		Name:       d.Name(),
		Records:    d.Records(),
		BlobBytes:  d.BlobBytes(),
		Quantizer:  d.Descriptor(),
		CreatedAt:  time.UnixMilli(d.CreatedAt()).UTC(),
		Published:  d.Published(),
		ArchiveKey: d.ArchiveKey(),
	}
}

// ListDatasets handles GET /datasets.
func (s *Server) ListDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.datasets.List(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	items := make([]DatasetResponse, len(list))
	for i, d := range list {
		items[i] = datasetToResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetDataset handles GET /datasets/{name}.
func (s *Server) GetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.datasets.Get(r.Context(), chirouter.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetToResponse(d))
}

// GetUsage handles GET /usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := usageuc.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	if s.usage == nil {
		writeJSON(w, http.StatusOK, usageuc.New(nil).GetReport(r.Context(), period))
		return
	}
	writeJSON(w, http.StatusOK, s.usage.GetReport(r.Context(), period))
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status healthuc.Status                 `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: report.Status,
		Checks: report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
