package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/kailas-cloud/bitlens/internal/domain/record"
)

// CSV reads one column of a delimited file. Rows may have any width; a row
// without the column is skipped.
type CSV struct {
	Path       string
	Column     int    // 0-based column index
	ColumnName string // resolved against the header when set
	Header     bool   // first row is a header
	Comma      rune   // defaults to ','

	skipCounter
}

// Name returns the file path.
func (s *CSV) Name() string { return s.Path }

// Records streams the column values.
func (s *CSV) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		s.reset()
		f, err := os.Open(s.Path)
		if err != nil {
			yield(record.Record{}, ioFailure(s.Path, err))
			return
		}
		defer f.Close()

		r := csv.NewReader(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		r.ReuseRecord = true
		if s.Comma != 0 {
			r.Comma = s.Comma
		}

		col := s.Column
		if s.Header {
			head, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(record.Record{}, ioFailure(s.Path, err))
				return
			}
			if s.ColumnName != "" {
				col = -1
				for i, h := range head {
					if h == s.ColumnName {
						col = i
						break
					}
				}
				if col < 0 {
					yield(record.Record{}, ioFailure(s.Path, malformed("column %q not in header", s.ColumnName)))
					return
				}
			}
		}

		var ordinal int64
		for {
			if err := ctx.Err(); err != nil {
				yield(record.Record{}, err)
				return
			}
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.skip(ctx, s.Path, int64(perr.Line), malformed("%v", perr.Err))
				continue
			}
			if err != nil {
				yield(record.Record{}, ioFailure(s.Path, err))
				return
			}
			line, _ := r.FieldPos(0)
			if col >= len(row) {
				s.skip(ctx, s.Path, int64(line), malformed("row has %d fields, column %d requested", len(row), col))
				continue
			}
			rec := record.Record{Ordinal: ordinal, Line: int64(line), Text: row[col]}
			ordinal++
			if !yield(rec, nil) {
				return
			}
		}
	}
}
