package source

import (
	"bufio"
	"context"
	"iter"
	"os"
	"strings"

	"github.com/kailas-cloud/bitlens/internal/domain/record"
)

// Lines reads a plain text file, one record per non-empty line.
type Lines struct {
	Path string

	skipCounter
}

// Name returns the file path.
func (s *Lines) Name() string { return s.Path }

// Records streams the lines.
func (s *Lines) Records(ctx context.Context) iter.Seq2[record.Record, error] {
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
			text := strings.TrimSuffix(sc.Text(), "\r")
			if strings.TrimSpace(text) == "" {
				continue
			}
			if !yield(record.Record{Ordinal: ordinal, Line: line, Text: text}, nil) {
				return
			}
			ordinal++
		}
		if err := sc.Err(); err != nil {
			yield(record.Record{}, ioFailure(s.Path, err))
		}
	}
}
