package filter

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/bitlens/internal/domain"
)

// scoreEpsilon absorbs float noise so that s=0.75, bits=64 yields exactly 16.
const scoreEpsilon = 1e-9

// Threshold is an exclusive maximum Hamming distance: a record passes iff distance < max.
type Threshold struct {
	max int
}

// MaxDistance creates a threshold that admits distances strictly below d.
func MaxDistance(d int) (Threshold, error) {
	if d < 0 {
		return Threshold{}, fmt.Errorf("%w: max distance must be >= 0, got %d", domain.ErrInvalidThreshold, d)
	}
	return Threshold{max: d}, nil
}

// MinScore creates a threshold that admits scores strictly above s for totalBits-wide fingerprints.
// Converted as ceil((1-s)*bits), so score > s holds exactly when distance < MaxDistance.
func MinScore(s float64, totalBits int) (Threshold, error) {
	if math.IsNaN(s) || s < 0 || s > 1 {
		return Threshold{}, fmt.Errorf("%w: min score must be in [0,1], got %v", domain.ErrInvalidThreshold, s)
	}
	if totalBits <= 0 {
		return Threshold{}, fmt.Errorf("%w: fingerprint width must be positive, got %d", domain.ErrInvalidThreshold, totalBits)
	}
	d := int(math.Ceil((1-s)*float64(totalBits) - scoreEpsilon))
	if d < 0 {
		d = 0
	}
	return Threshold{max: d}, nil
}

// MaxDistance returns the exclusive distance bound.
func (t Threshold) MaxDistance() int { return t.max }

// Admits reports whether distance passes the threshold.
func (t Threshold) Admits(distance int) bool { return distance < t.max }

// Score returns the score boundary: passing records score strictly above it.
func (t Threshold) Score(totalBits int) float64 {
	if totalBits <= 0 {
		return 0
	}
	return 1 - float64(t.max)/float64(totalBits)
}

func (t Threshold) String() string { return fmt.Sprintf("distance<%d", t.max) }
