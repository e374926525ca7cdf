package quantize

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

// Projection sets bit i iff dot(planes[i], v) > 0.
// Hyperplanes are drawn once from a ChaCha8 stream, so a given seed yields
// bit-identical fingerprints across processes.
type Projection struct {
	inDim  int
	outDim int
	seed   uint64
	planes [][]float32 // [outDim][inDim]
}

// NewProjection draws an outDim x inDim Gaussian matrix from seed.
func NewProjection(inDim, outDim int, seed uint64) (*Projection, error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, fmt.Errorf("%w: projection needs positive dims, got %dx%d",
			domain.ErrDimensionMismatch, outDim, inDim)
	}

	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	rng := rand.New(rand.NewChaCha8(key))

	planes := make([][]float32, outDim)
	for i := range planes {
		plane := make([]float32, inDim)
		for j := range plane {
			plane[j] = float32(rng.NormFloat64())
		}
		planes[i] = plane
	}

	return &Projection{inDim: inDim, outDim: outDim, seed: seed, planes: planes}, nil
}

// Quantize projects v onto every hyperplane and keeps the signs.
func (p *Projection) Quantize(v []float32) (fingerprint.Fingerprint, error) {
	if err := checkDim(v, p.inDim); err != nil {
		return nil, err
	}
	fp := fingerprint.New(p.outDim)
	for i, plane := range p.planes {
		if dot(plane, v) > 0 {
			fp.Set(i)
		}
	}
	return fp, nil
}

// Bits returns the fingerprint width.
func (p *Projection) Bits() int { return p.outDim }

// Words returns the number of 64-bit words per fingerprint.
func (p *Projection) Words() int { return fingerprint.Words(p.outDim) }

// Descriptor identifies the scheme, dimensions and seed.
func (p *Projection) Descriptor() domain.Descriptor {
	return domain.Descriptor{
		Scheme:    domain.SchemeProjection,
		InputDim:  p.inDim,
		OutputDim: p.outDim,
		Seed:      p.seed,
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
