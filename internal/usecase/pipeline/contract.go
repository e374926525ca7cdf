package pipeline

import (
	"context"
	"iter"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
	"github.com/kailas-cloud/bitlens/internal/domain/record"
)

// Source yields records in input order. Every Records call restarts from the beginning.
type Source interface {
	Records(ctx context.Context) iter.Seq2[record.Record, error]
	Skipped() int64
	Name() string
}

// Sink consumes computed batches. Write is only ever called from one goroutine.
// Ordered sinks receive batches in submission order, others in completion order.
type Sink interface {
	Ordered() bool
	Write(b *Batch) error
	Commit() error
	Abort()
}

// Quantizer is the local interface for vector to fingerprint conversion.
type Quantizer interface {
	Quantize(v []float32) (fingerprint.Fingerprint, error)
	Bits() int
	Words() int
	Descriptor() domain.Descriptor
}
