package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/bitlens/internal/domain/record"
)

const parquetReadBatch = 1000

// Parquet reads one top-level string column, row group by row group.
type Parquet struct {
	Path   string
	Column string

	skipCounter
}

// Name returns the file path.
func (s *Parquet) Name() string { return s.Path }

// Records streams the column values.
func (s *Parquet) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		s.reset()
		f, err := os.Open(filepath.Clean(s.Path))
		if err != nil {
			yield(record.Record{}, ioFailure(s.Path, err))
			return
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			yield(record.Record{}, ioFailure(s.Path, err))
			return
		}
		pf, err := parquet.OpenFile(f, stat.Size())
		if err != nil {
			yield(record.Record{}, ioFailure(s.Path, fmt.Errorf("open parquet: %w", err)))
			return
		}

		col := -1
		for i, path := range pf.Schema().Columns() {
			if len(path) == 1 && path[0] == s.Column {
				col = i
				break
			}
		}
		if col < 0 {
			yield(record.Record{}, ioFailure(s.Path, malformed("column %q not in parquet schema", s.Column)))
			return
		}

		var line, ordinal int64
		buf := make([]parquet.Row, parquetReadBatch)
		for _, rg := range pf.RowGroups() {
			rows := parquet.NewRowGroupReader(rg)
			for {
				if err := ctx.Err(); err != nil {
					yield(record.Record{}, err)
					return
				}
				n, readErr := rows.ReadRows(buf)
				for i := range n {
					line++
					text, ok := columnText(buf[i], col)
					if !ok {
						s.skip(ctx, s.Path, line, malformed("column %q is null or not a string", s.Column))
						continue
					}
					if !yield(record.Record{Ordinal: ordinal, Line: line, Text: text}, nil) {
						return
					}
					ordinal++
				}
				if readErr != nil {
					if errors.Is(readErr, io.EOF) {
						break
					}
					yield(record.Record{}, ioFailure(s.Path, fmt.Errorf("read rows: %w", readErr)))
					return
				}
			}
		}
	}
}

func columnText(row parquet.Row, col int) (string, bool) {
	for _, v := range row {
		if v.Column() != col {
			continue
		}
		if v.IsNull() || v.Kind() != parquet.ByteArray {
			return "", false
		}
		return v.String(), true
	}
	return "", false
}
