package domain

import "fmt"

// Quantizer schemes.
const (
	SchemeSign       = "sign"
	SchemeProjection = "projection"
)

// Descriptor identifies how fingerprints were produced.
// Fingerprints are only comparable when their descriptors are equal.
type Descriptor struct {
	Scheme    string `json:"scheme" yaml:"scheme"`
	InputDim  int    `json:"input_dim" yaml:"input_dim"`
	OutputDim int    `json:"output_dim" yaml:"output_dim"`
	Seed      uint64 `json:"seed,omitempty" yaml:"seed"`
}

// Bits returns the fingerprint width in bits.
func (d Descriptor) Bits() int { return d.OutputDim }

// Compatible returns ErrSchemeMismatch when other was produced differently.
func (d Descriptor) Compatible(other Descriptor) error {
	if d != other {
		return fmt.Errorf("%w: have %s, want %s", ErrSchemeMismatch, other, d)
	}
	return nil
}

func (d Descriptor) String() string {
	if d.Scheme == SchemeProjection {
		return fmt.Sprintf("%s(%d->%d,seed=%d)", d.Scheme, d.InputDim, d.OutputDim, d.Seed)
	}
	return fmt.Sprintf("%s(%d)", d.Scheme, d.OutputDim)
}
