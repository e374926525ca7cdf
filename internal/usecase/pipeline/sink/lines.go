// Package sink provides pipeline outputs: match reports and baked indexes.
package sink

import (
	"bufio"
	"fmt"
	"io"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/record"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
)

const outputBufSize = 1 << 20

// LineSink writes one `<filter> : <score> : "<text>"` line per matched record.
// Lines appear in batch completion order.
type LineSink struct {
	w      *bufio.Writer
	closer io.Closer
	lines  int64
}

// NewLineSink writes to w. If w is an io.Closer it is closed on Commit and Abort.
func NewLineSink(w io.Writer) *LineSink {
	s := &LineSink{w: bufio.NewWriterSize(w, outputBufSize)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Ordered reports false: match lines need no input ordering.
func (s *LineSink) Ordered() bool { return false }

// Write formats every matched record of b.
func (s *LineSink) Write(b *pipeline.Batch) error {
	for i, rec := range b.Records {
		m, ok := b.Match(i)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(s.w, "%s : %.4f : \"%s\"\n", m.Filter, m.Score, record.Sanitize(rec.Text)); err != nil {
			return fmt.Errorf("%w: write line: %w", domain.ErrIO, err)
		}
		s.lines++
	}
	return nil
}

// Lines returns the number of lines written.
func (s *LineSink) Lines() int64 { return s.lines }

// Commit flushes buffered lines.
func (s *LineSink) Commit() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: flush lines: %w", domain.ErrIO, err)
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return fmt.Errorf("%w: close lines: %w", domain.ErrIO, err)
		}
	}
	return nil
}

// Abort drops buffered lines.
func (s *LineSink) Abort() {
	s.w.Reset(io.Discard)
	if s.closer != nil {
		_ = s.closer.Close()
	}
}
