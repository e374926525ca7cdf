// Package filter builds context filters from anchor phrases.
package filter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/kailas-cloud/bitlens/internal/domain"
	domfilter "github.com/kailas-cloud/bitlens/internal/domain/filter"
	"github.com/kailas-cloud/bitlens/internal/quantize"
)

// DefaultName labels a keyword row whose category cell is empty.
const DefaultName = "default"

// Service embeds anchor phrases and quantizes their centroid into a filter.
type Service struct {
	embedder  domain.Embedder
	quantizer Quantizer
	logger    *zap.Logger
}

// New creates a filter builder.
func New(embedder domain.Embedder, quantizer Quantizer, logger *zap.Logger) *Service {
	return &Service{embedder: embedder, quantizer: quantizer, logger: logger}
}

// Threshold builds the acceptance threshold: maxDistance wins when positive,
// otherwise minScore is converted for the quantizer's fingerprint width.
func (s *Service) Threshold(maxDistance int, minScore float64) (domfilter.Threshold, error) {
	if maxDistance > 0 {
		return domfilter.MaxDistance(maxDistance)
	}
	return domfilter.MinScore(minScore, s.quantizer.Bits())
}

// Build embeds all anchors in one call, averages them and quantizes the centroid.
func (s *Service) Build(
	ctx context.Context, name string, anchors []string, threshold domfilter.Threshold,
) (domfilter.ContextFilter, error) {
	anchors = cleanAnchors(anchors)
	if len(anchors) == 0 {
		return domfilter.ContextFilter{}, stageErr(name, fmt.Errorf("%w: filter %q", domain.ErrEmptyAnchorSet, name))
	}

	vectors, err := domain.EmbedAll(ctx, s.embedder, anchors)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingProviderError) {
			err = fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
		}
		return domfilter.ContextFilter{}, stageErr(name, err)
	}

	centroid, err := quantize.Centroid(vectors)
	if err != nil {
		return domfilter.ContextFilter{}, stageErr(name, err)
	}
	fp, err := s.quantizer.Quantize(centroid)
	if err != nil {
		return domfilter.ContextFilter{}, stageErr(name, err)
	}

	f, err := domfilter.New(name, fp, threshold)
	if err != nil {
		return domfilter.ContextFilter{}, stageErr(name, err)
	}

	s.logger.Debug("Filter built",
		zap.String("filter", name),
		zap.Int("anchors", len(anchors)),
		zap.Stringer("fingerprint", fp),
		zap.Int("max_distance", threshold.MaxDistance()),
	)
	return f, nil
}

// LoadKeywords reads a keyword CSV (header row, then "category,anchor,anchor,...")
// and builds one filter per category. Rows sharing a category are merged.
// Malformed rows and rows without anchors are skipped with a warning.
func (s *Service) LoadKeywords(
	ctx context.Context, r io.Reader, threshold domfilter.Threshold,
) ([]domfilter.ContextFilter, error) {
	groups, err := s.readKeywords(r)
	if err != nil {
		return nil, stageErr("", err)
	}

	filters := make([]domfilter.ContextFilter, 0, len(groups))
	for _, g := range groups {
		if len(g.anchors) == 0 {
			s.logger.Warn("Skipping filter without anchors", zap.String("filter", g.name))
			continue
		}
		f, err := s.Build(ctx, g.name, g.anchors, threshold)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	if len(filters) == 0 {
		return nil, stageErr("", fmt.Errorf("%w: keyword file defines no usable filters", domain.ErrEmptyAnchorSet))
	}
	s.logger.Info("Filters loaded", zap.Int("filters", len(filters)))
	return filters, nil
}

type keywordGroup struct {
	name    string
	anchors []string
}

func (s *Service) readKeywords(r io.Reader) ([]*keywordGroup, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read keyword header: %w", domain.ErrIO, err)
	}

	var groups []*keywordGroup
	byName := make(map[string]*keywordGroup)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			s.logger.Warn("Skipping bad keyword row", zap.Int("line", perr.Line), zap.Error(perr.Err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read keywords: %w", domain.ErrIO, err)
		}

		name := normalizeName(row[0])
		g, ok := byName[name]
		if !ok {
			g = &keywordGroup{name: name}
			byName[name] = g
			groups = append(groups, g)
		}
		g.anchors = append(g.anchors, cleanAnchors(row[1:])...)
	}
	return groups, nil
}

func normalizeName(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	if s == "" {
		return DefaultName
	}
	return s
}

func cleanAnchors(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func stageErr(name string, err error) error {
	return domain.NewStageError(domain.StageFilter, name, err)
}
