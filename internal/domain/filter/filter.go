// Package filter defines named context filters and best-match selection over them.
package filter

import (
	"fmt"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

// TieBreak selects the winner when several filters share the best score.
type TieBreak int

const (
	// FirstDeclared keeps the earliest declared filter among equals.
	FirstDeclared TieBreak = iota
	// LastDeclared keeps the latest declared filter among equals.
	LastDeclared
)

// ParseTieBreak parses "first" or "last"; empty means FirstDeclared.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "first":
		return FirstDeclared, nil
	case "last":
		return LastDeclared, nil
	default:
		return FirstDeclared, fmt.Errorf("unknown tie break %q (want first or last)", s)
	}
}

func (t TieBreak) String() string {
	if t == LastDeclared {
		return "last"
	}
	return "first"
}

// ContextFilter is a named fingerprint with an acceptance threshold. Immutable.
type ContextFilter struct {
	name        string
	fingerprint fingerprint.Fingerprint
	threshold   Threshold
}

// New validates and creates a ContextFilter.
func New(name string, fp fingerprint.Fingerprint, t Threshold) (ContextFilter, error) {
	if name == "" {
		return ContextFilter{}, fmt.Errorf("%w: filter name is required", domain.ErrInvalidInput)
	}
	if len(fp) == 0 {
		return ContextFilter{}, fmt.Errorf("%w: filter %q has an empty fingerprint", domain.ErrDimensionMismatch, name)
	}
	cp := make(fingerprint.Fingerprint, len(fp))
	copy(cp, fp)
	return ContextFilter{name: name, fingerprint: cp, threshold: t}, nil
}

// Name returns the filter label.
func (f ContextFilter) Name() string { return f.name }

// Fingerprint returns the filter fingerprint. Callers must not mutate it.
func (f ContextFilter) Fingerprint() fingerprint.Fingerprint { return f.fingerprint }

// Threshold returns the acceptance threshold.
func (f ContextFilter) Threshold() Threshold { return f.threshold }

// Match is the winning filter for one record.
type Match struct {
	Filter   string
	Index    int
	Distance int
	Score    float64
}

// Best evaluates every filter and returns the highest-scoring one that passes its threshold.
// bits is the quantizer width the scores are computed over; bits <= 0 uses the
// padded width of fp.
func Best(fp fingerprint.Fingerprint, bits int, filters []ContextFilter, tie TieBreak) (Match, bool) {
	if bits <= 0 {
		bits = fp.Bits()
	}
	best := Match{Index: -1}
	for i, f := range filters {
		d := fingerprint.Hamming(fp, f.fingerprint)
		if !f.threshold.Admits(d) {
			continue
		}
		switch {
		case best.Index < 0, d < best.Distance:
		case d == best.Distance && tie == LastDeclared:
		default:
			continue
		}
		best = Match{Filter: f.name, Index: i, Distance: d, Score: fingerprint.Score(d, bits)}
	}
	return best, best.Index >= 0
}
