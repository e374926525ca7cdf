package source

import (
	"context"
	"iter"

	"github.com/kailas-cloud/bitlens/internal/domain/record"
)

// Slice yields in-memory texts.
type Slice struct {
	Label string
	Texts []string
}

// NewSlice creates an in-memory source.
func NewSlice(label string, texts ...string) *Slice {
	return &Slice{Label: label, Texts: texts}
}

// Name returns the label.
func (s *Slice) Name() string { return s.Label }

// Skipped is always zero.
func (s *Slice) Skipped() int64 { return 0 }

// Records yields every text in order.
func (s *Slice) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for i, t := range s.Texts {
			if err := ctx.Err(); err != nil {
				yield(record.Record{}, err)
				return
			}
			if !yield(record.Record{Ordinal: int64(i), Line: int64(i + 1), Text: t}, nil) {
				return
			}
		}
	}
}
