package filter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kailas-cloud/bitlens/internal/domain"
	domfilter "github.com/kailas-cloud/bitlens/internal/domain/filter"
)

// Thesaurus maps an action type to verbs that express it.
type Thesaurus struct {
	actions map[string][]string
}

// DefaultThesaurus covers the built-in action types.
func DefaultThesaurus() *Thesaurus {
	return &Thesaurus{actions: map[string][]string{
		"interaction": {"met", "spoke", "visited", "emailed"},
		"transaction": {"bought", "sold", "paid", "traded"},
		"conflict":    {"argued", "disagreed", "fought", "blocked"},
	}}
}

// LoadThesaurus reads "action,syn1,...,synN" rows after a header row.
// Later rows for the same action replace earlier ones.
func LoadThesaurus(r io.Reader) (*Thesaurus, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return &Thesaurus{actions: map[string][]string{}}, nil
		}
		return nil, fmt.Errorf("%w: read thesaurus header: %w", domain.ErrIO, err)
	}

	t := &Thesaurus{actions: make(map[string][]string)}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read thesaurus: %w", domain.ErrMalformedRecord, err)
		}
		action := strings.ToLower(strings.TrimSpace(norm.NFC.String(row[0])))
		if action == "" {
			continue
		}
		t.actions[action] = cleanAnchors(row[1:])
	}
	return t, nil
}

// Len returns the number of action types.
func (t *Thesaurus) Len() int { return len(t.actions) }

// Synonyms returns the verbs registered for action.
func (t *Thesaurus) Synonyms(action string) []string {
	return t.actions[strings.ToLower(strings.TrimSpace(action))]
}

// Expand writes "<subject> <verb> <object>" for every synonym of action, followed by
// the structural variant "<subject> was seen with <object>". Unknown actions yield
// only the structural variant.
func (t *Thesaurus) Expand(subject, object, action string) []string {
	syns := t.Synonyms(action)
	out := make([]string, 0, len(syns)+1)
	for _, s := range syns {
		out = append(out, subject+" "+s+" "+object)
	}
	return append(out, subject+" was seen with "+object)
}

// BuildExpanded builds a filter whose anchors are the thesaurus expansion of
// subject, object and action.
func (s *Service) BuildExpanded(
	ctx context.Context, t *Thesaurus, name, subject, object, action string, threshold domfilter.Threshold,
) (domfilter.ContextFilter, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(object) == "" {
		return domfilter.ContextFilter{}, stageErr(name,
			fmt.Errorf("%w: subject and object are required", domain.ErrEmptyAnchorSet))
	}
	return s.Build(ctx, name, t.Expand(subject, object, action), threshold)
}
