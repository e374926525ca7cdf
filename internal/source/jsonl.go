package source

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"os"

	"github.com/kailas-cloud/bitlens/internal/domain/record"
)

const maxLineBytes = 16 << 20

// JSONLines reads one string field from a file of JSON objects, one per line.
type JSONLines struct {
	Path  string
	Field string

	skipCounter
}

// Name returns the file path.
func (s *JSONLines) Name() string { return s.Path }

// Records streams the field values.
func (s *JSONLines) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		s.reset()
		f, err := os.Open(s.Path)
		if err != nil {
			yield(record.Record{}, ioFailure(s.Path, err))
			return
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)

		var line, ordinal int64
		for sc.Scan() {
			line++
			if err := ctx.Err(); err != nil {
				yield(record.Record{}, err)
				return
			}
			raw := sc.Bytes()
			if len(raw) == 0 {
				continue
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				s.skip(ctx, s.Path, line, malformed("invalid json: %v", err))
				continue
			}
			var text string
			field, ok := obj[s.Field]
			if !ok {
				s.skip(ctx, s.Path, line, malformed("field %q missing", s.Field))
				continue
			}
			if err := json.Unmarshal(field, &text); err != nil {
				s.skip(ctx, s.Path, line, malformed("field %q is not a string", s.Field))
				continue
			}
			rec := record.Record{Ordinal: ordinal, Line: line, Text: text}
			ordinal++
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(record.Record{}, ioFailure(s.Path, err))
		}
	}
}
