package filter

import (
	"fmt"

	"github.com/kailas-cloud/bitlens/internal/domain"
)

// Set is an ordered collection of filters with unique names.
type Set struct {
	filters []ContextFilter
	index   map[string]int
}

// NewSet builds a Set from filters, rejecting duplicate names.
func NewSet(filters ...ContextFilter) (*Set, error) {
	s := &Set{index: make(map[string]int, len(filters))}
	for _, f := range filters {
		if err := s.Add(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends f. All filters in a set must share one fingerprint width.
func (s *Set) Add(f ContextFilter) error {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[f.name]; ok {
		return fmt.Errorf("%w: filter %q", domain.ErrAlreadyExists, f.name)
	}
	if len(s.filters) > 0 && len(s.filters[0].fingerprint) != len(f.fingerprint) {
		return fmt.Errorf("%w: filter %q has %d words, set has %d",
			domain.ErrDimensionMismatch, f.name, len(f.fingerprint), len(s.filters[0].fingerprint))
	}
	s.index[f.name] = len(s.filters)
	s.filters = append(s.filters, f)
	return nil
}

// Get returns the filter named name.
func (s *Set) Get(name string) (ContextFilter, bool) {
	i, ok := s.index[name]
	if !ok {
		return ContextFilter{}, false
	}
	return s.filters[i], true
}

// Len returns the number of filters.
func (s *Set) Len() int { return len(s.filters) }

// Names returns filter names in declaration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.filters))
	for i, f := range s.filters {
		names[i] = f.name
	}
	return names
}

// Filters returns the filters in declaration order.
func (s *Set) Filters() []ContextFilter { return s.filters }
