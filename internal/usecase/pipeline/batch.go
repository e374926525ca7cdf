package pipeline

import (
	"github.com/kailas-cloud/bitlens/internal/domain/filter"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
	"github.com/kailas-cloud/bitlens/internal/domain/record"
)

// Batch is a contiguous run of records and their computed fingerprints.
// Matches is only populated when the run has filters; an entry with Index < 0
// means the record matched nothing.
type Batch struct {
	Seq          int64
	Records      []record.Record
	Fingerprints []fingerprint.Fingerprint
	Matches      []filter.Match
}

// Match returns the best filter for record i, if any.
func (b *Batch) Match(i int) (filter.Match, bool) {
	if i >= len(b.Matches) || b.Matches[i].Index < 0 {
		return filter.Match{}, false
	}
	return b.Matches[i], true
}

// Len returns the number of records.
func (b *Batch) Len() int { return len(b.Records) }

func (b *Batch) texts() []string {
	out := make([]string, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Text
	}
	return out
}
