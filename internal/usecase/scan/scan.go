// Package scan finds index records within a Hamming radius of a query fingerprint.
package scan

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
	"github.com/kailas-cloud/bitlens/internal/index"
	"github.com/kailas-cloud/bitlens/internal/metrics"
)

// minChunk keeps tiny indexes from being split across many goroutines.
const minChunk = 4096

// Match is one retained record.
type Match struct {
	Text     string  `json:"text"`
	Distance int     `json:"hamming_distance"`
	Score    float64 `json:"score"`
	Ordinal  int     `json:"ordinal"`
}

// Result holds the retained records sorted by distance, then text.
type Result struct {
	Matches []Match
	Entries *roaring.Bitmap // ordinals of every entry within the radius
	Scanned int
	Dropped int
}

// Service runs parallel scans over read-only indexes.
type Service struct {
	workers  int
	minChunk int
	logger   *zap.Logger
}

// New creates a scanner. workers <= 0 uses GOMAXPROCS.
func New(workers int, logger *zap.Logger) *Service {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Service{workers: workers, minChunk: minChunk, logger: logger}
}

// Scan opens the index pair, scans it and closes it.
func (s *Service) Scan(
	ctx context.Context, indexPath, blobPath string, query fingerprint.Fingerprint, bits, maxDistance int,
) (Result, error) {
	r, err := index.Open(indexPath, blobPath)
	if err != nil {
		return Result{}, domain.NewStageError(domain.StageScan, indexPath, err)
	}
	defer r.Close()
	return s.ScanReader(ctx, r, query, bits, maxDistance)
}

// ScanReader retains every record whose distance to query is below maxDistance.
// Scores are computed over bits, the quantizer width; bits <= 0 uses the padded
// word width. Records with invalid UTF-8 or spans outside the blob are dropped
// with a warning. Identical texts collapse into one match.
func (s *Service) ScanReader(
	ctx context.Context, r *index.Reader, query fingerprint.Fingerprint, bits, maxDistance int,
) (Result, error) {
	if len(query) != r.Words() {
		return Result{}, domain.NewStageError(domain.StageScan, "", fmt.Errorf(
			"%w: query has %d words, index has %d", domain.ErrDimensionMismatch, len(query), r.Words()))
	}
	padded := len(query) * fingerprint.WordBits
	switch {
	case bits <= 0:
		bits = padded
	case fingerprint.Words(bits) != len(query):
		return Result{}, domain.NewStageError(domain.StageScan, "", fmt.Errorf(
			"%w: %d bits do not fit %d words", domain.ErrDimensionMismatch, bits, len(query)))
	}

	start := time.Now()
	n := r.Len()
	chunk := max(s.minChunk, (n+s.workers-1)/s.workers)

	chunks := (n + chunk - 1) / chunk
	var (
		found   sync.Map // text -> Match
		locals  = make([]*roaring.Bitmap, chunks)
		drops   = make([]int, chunks)
		dropped int
	)

	g, gctx := errgroup.WithContext(ctx)
	for c := range chunks {
		lo, hi := c*chunk, min((c+1)*chunk, n)
		g.Go(func() error {
			local := roaring.New()
			locals[c] = local
			for i := lo; i < hi; i++ {
				if (i-lo)&1023 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				d, err := r.Hamming(i, query)
				if err != nil {
					return err
				}
				if d >= maxDistance {
					continue
				}
				local.Add(uint32(i)) // index.MaxRecords keeps ordinals within uint32
				text, err := r.TextAt(i)
				if err != nil || !utf8.Valid(text) {
					drops[c]++
					s.logger.Warn("Dropping unreadable record",
						zap.Int("ordinal", i),
						zap.Bool("invalid_utf8", err == nil),
						zap.Error(err),
					)
					continue
				}
				t := string(text)
				found.Store(t, Match{Text: t, Distance: d, Score: fingerprint.Score(d, bits), Ordinal: i})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, domain.NewStageError(domain.StageScan, "", err)
	}
	entries := roaring.New()
	if chunks > 0 {
		entries = roaring.FastOr(locals...)
	}
	for _, d := range drops {
		dropped += d
	}

	var matches []Match
	found.Range(func(_, v any) bool {
		matches = append(matches, v.(Match))
		return true
	})
	slices.SortFunc(matches, func(a, b Match) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.Text, b.Text))
	})

	elapsed := time.Since(start)
	metrics.ScanEntriesTotal.Add(float64(n))
	metrics.ScanMatchesTotal.Add(float64(entries.GetCardinality()))
	metrics.ScanDroppedTotal.Add(float64(dropped))
	metrics.ScanDuration.Observe(elapsed.Seconds())

	s.logger.Debug("Scan completed",
		zap.Int("entries", n),
		zap.Uint64("within_radius", entries.GetCardinality()),
		zap.Int("unique_texts", len(matches)),
		zap.Int("dropped", dropped),
		zap.Duration("duration", elapsed),
	)

	return Result{Matches: matches, Entries: entries, Scanned: n, Dropped: dropped}, nil
}
