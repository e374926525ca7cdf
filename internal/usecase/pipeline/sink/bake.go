package sink

import (
	"fmt"

	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
)

// IndexWriter is the local interface for the append-only index writer.
type IndexWriter interface {
	Append(hash fingerprint.Fingerprint, text string) error
	Commit() error
	Abort()
	Count() int64
	BlobSize() uint64
}

// BakeSink appends every record and its fingerprint to an index in input order.
type BakeSink struct {
	w IndexWriter
}

// NewBakeSink wraps an index writer.
func NewBakeSink(w IndexWriter) *BakeSink { return &BakeSink{w: w} }

// Ordered reports true: index ordinals follow input order.
func (s *BakeSink) Ordered() bool { return true }

// Write appends b.
func (s *BakeSink) Write(b *pipeline.Batch) error {
	for i, rec := range b.Records {
		if err := s.w.Append(b.Fingerprints[i], rec.Text); err != nil {
			return fmt.Errorf("append record %d: %w", rec.Ordinal, err)
		}
	}
	return nil
}

// Commit publishes the index.
func (s *BakeSink) Commit() error { return s.w.Commit() }

// Abort removes the partial index.
func (s *BakeSink) Abort() { s.w.Abort() }

// Records returns the number of appended records.
func (s *BakeSink) Records() int64 { return s.w.Count() }

// BlobSize returns the number of text bytes appended.
func (s *BakeSink) BlobSize() uint64 { return s.w.BlobSize() }
