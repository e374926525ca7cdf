package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names in Report.Checks.
const (
	ComponentCatalog   = "catalog"
	ComponentEmbedding = "embedding"
	ComponentCache     = "cache"
	ComponentArchive   = "archive"
)

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Service coordinates health checks.
type Service struct {
	catalog   Pinger
	embedding EmbeddingChecker
	cache     Pinger
	archive   Pinger
}

// New creates a Service. embedding can be nil.
func New(catalog Pinger, embedding EmbeddingChecker) *Service {
	return &Service{catalog: catalog, embedding: embedding}
}

// WithCache adds the embedding cache store to the report.
func (s *Service) WithCache(p Pinger) *Service {
	s.cache = p
	return s
}

// WithArchive adds the archive object store to the report.
func (s *Service) WithArchive(p Pinger) *Service {
	s.archive = p
	return s
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}

// Check runs health checks against all configured components.
// Any failure degrades the status; all failing makes it unhealthy.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	checks[ComponentCatalog] = result(s.catalog.Ping(ctx))
	if s.embedding != nil {
		checks[ComponentEmbedding] = result(s.embedding.HealthCheck(ctx))
	}
	if s.cache != nil {
		checks[ComponentCache] = result(s.cache.Ping(ctx))
	}
	if s.archive != nil {
		checks[ComponentArchive] = result(s.archive.Ping(ctx))
	}

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	status := Healthy
	switch {
	case failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
