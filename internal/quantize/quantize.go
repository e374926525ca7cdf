// Package quantize turns dense embedding vectors into binary fingerprints.
//
// Two schemes are supported: direct sign quantization, where each vector component
// becomes one bit, and random hyperplane projection, where each bit is the sign of
// the dot product with a seeded Gaussian hyperplane. Quantizers are immutable after
// construction and safe for concurrent use.
package quantize

import (
	"fmt"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

// DefaultSeed reproduces the hyperplanes used by existing baked indexes.
const DefaultSeed = 42

// Quantizer maps a vector to a fingerprint.
type Quantizer interface {
	Quantize(v []float32) (fingerprint.Fingerprint, error)
	Bits() int
	Words() int
	Descriptor() domain.Descriptor
}

// New builds a quantizer for the given descriptor.
func New(d domain.Descriptor) (Quantizer, error) {
	switch d.Scheme {
	case domain.SchemeSign, "":
		return NewSign(d.InputDim)
	case domain.SchemeProjection:
		return NewProjection(d.InputDim, d.OutputDim, d.Seed)
	default:
		return nil, fmt.Errorf("unknown quantizer scheme %q", d.Scheme)
	}
}

func checkDim(v []float32, want int) error {
	if len(v) != want {
		return fmt.Errorf("%w: vector has %d components, want %d", domain.ErrDimensionMismatch, len(v), want)
	}
	return nil
}
