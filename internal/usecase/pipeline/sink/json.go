package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/usecase/pipeline"
)

// MatchJSON is one element of the JSON report.
type MatchJSON struct {
	MatchedCategory string  `json:"matched_category"`
	HammingDistance int     `json:"hamming_distance"`
	Score           float64 `json:"score"`
	OriginalRecord  string  `json:"original_record"`
	Line            int64   `json:"line,omitempty"`
}

// JSONSink streams matches as a single JSON array.
type JSONSink struct {
	w       *bufio.Writer
	closer  io.Closer
	written int64
}

// NewJSONSink writes to w. If w is an io.Closer it is closed on Commit and Abort.
func NewJSONSink(w io.Writer) *JSONSink {
	s := &JSONSink{w: bufio.NewWriterSize(w, outputBufSize)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Ordered reports false.
func (s *JSONSink) Ordered() bool { return false }

// Write appends every matched record of b to the array.
func (s *JSONSink) Write(b *pipeline.Batch) error {
	for i, rec := range b.Records {
		m, ok := b.Match(i)
		if !ok {
			continue
		}
		data, err := json.Marshal(MatchJSON{
			MatchedCategory: m.Filter,
			HammingDistance: m.Distance,
			Score:           m.Score,
			OriginalRecord:  rec.Text,
			Line:            rec.Line,
		})
		if err != nil {
			return fmt.Errorf("marshal match: %w", err)
		}
		sep := byte(',')
		if s.written == 0 {
			sep = '['
		}
		if err := s.w.WriteByte(sep); err != nil {
			return fmt.Errorf("%w: write json: %w", domain.ErrIO, err)
		}
		if _, err := s.w.Write(data); err != nil {
			return fmt.Errorf("%w: write json: %w", domain.ErrIO, err)
		}
		s.written++
	}
	return nil
}

// Commit closes the array and flushes.
func (s *JSONSink) Commit() error {
	tail := "]\n"
	if s.written == 0 {
		tail = "[]\n"
	}
	if _, err := s.w.WriteString(tail); err != nil {
		return fmt.Errorf("%w: write json: %w", domain.ErrIO, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: flush json: %w", domain.ErrIO, err)
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return fmt.Errorf("%w: close json: %w", domain.ErrIO, err)
		}
	}
	return nil
}

// Abort drops buffered output.
func (s *JSONSink) Abort() {
	s.w.Reset(io.Discard)
	if s.closer != nil {
		_ = s.closer.Close()
	}
}
