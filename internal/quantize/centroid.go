package quantize

import (
	"fmt"

	"github.com/kailas-cloud/bitlens/internal/domain"
)

// Centroid returns the component-wise mean of vectors.
func Centroid(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, domain.ErrEmptyAnchorSet
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty anchor vector", domain.ErrDimensionMismatch)
	}

	sum := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: anchor %d has %d components, want %d",
				domain.ErrDimensionMismatch, i, len(v), dim)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}

	out := make([]float32, dim)
	n := float64(len(vectors))
	for j, s := range sum {
		out[j] = float32(s / n)
	}
	return out, nil
}
