package quantize

import (
	"fmt"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

// Sign sets bit i iff v[i] > 0. Zero maps to 0.
type Sign struct {
	dim int
}

// NewSign creates a sign quantizer for dim-dimensional vectors.
func NewSign(dim int) (*Sign, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: sign quantizer needs dim > 0, got %d", domain.ErrDimensionMismatch, dim)
	}
	return &Sign{dim: dim}, nil
}

// Quantize packs the sign bits of v.
func (s *Sign) Quantize(v []float32) (fingerprint.Fingerprint, error) {
	if err := checkDim(v, s.dim); err != nil {
		return nil, err
	}
	fp := fingerprint.New(s.dim)
	for i, x := range v {
		if x > 0 {
			fp.Set(i)
		}
	}
	return fp, nil
}

// Bits returns the fingerprint width.
func (s *Sign) Bits() int { return s.dim }

// Words returns the number of 64-bit words per fingerprint.
func (s *Sign) Words() int { return fingerprint.Words(s.dim) }

// Descriptor identifies the scheme.
func (s *Sign) Descriptor() domain.Descriptor {
	return domain.Descriptor{Scheme: domain.SchemeSign, InputDim: s.dim, OutputDim: s.dim}
}
