package filter

import (
	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

// Quantizer is the local interface for turning a centroid into a fingerprint.
type Quantizer interface {
	Quantize(v []float32) (fingerprint.Fingerprint, error)
	Bits() int
	Descriptor() domain.Descriptor
}
