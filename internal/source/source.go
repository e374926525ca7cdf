// Package source reads text records from files and memory.
//
// Every source is restartable: each Records call reads from the beginning.
// Malformed rows are logged, counted and skipped; only failures that prevent
// reading the input at all are yielded as errors, after which iteration stops.
package source

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/record"
	"github.com/kailas-cloud/bitlens/internal/logger"
)

// Source yields records in input order.
type Source interface {
	Records(ctx context.Context) iter.Seq2[record.Record, error]
	Skipped() int64
	Name() string
}

// skipCounter tracks malformed rows for the most recent Records call.
type skipCounter struct {
	n atomic.Int64
}

func (c *skipCounter) reset() { c.n.Store(0) }

// Skipped returns the number of rows skipped by the most recent Records call.
func (c *skipCounter) Skipped() int64 { return c.n.Load() }

func (c *skipCounter) skip(ctx context.Context, name string, line int64, err error) {
	c.n.Add(1)
	logger.FromContext(ctx).Warn("skipping malformed record",
		zap.String("source", name),
		zap.Int64("line", line),
		zap.Error(err),
	)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedRecord, fmt.Sprintf(format, args...))
}

func ioFailure(name string, err error) error {
	return domain.NewStageError(domain.StageIngest, name, fmt.Errorf("%w: %w", domain.ErrIO, err))
}

// Open picks a source by file extension. column is a 0-based index or a header
// name for CSV (default 0), a field name for JSON lines (default "text") and
// a column name for Parquet.
func Open(path, column string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		s := &CSV{Path: path, Header: true}
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			s.Comma = '\t'
		}
		if column != "" {
			if n, err := strconv.Atoi(column); err == nil {
				s.Column = n
			} else {
				s.ColumnName = column
			}
		}
		if s.Column < 0 {
			return nil, fmt.Errorf("%w: negative column %d", domain.ErrInvalidInput, s.Column)
		}
		return s, nil
	case ".jsonl", ".ndjson":
		if column == "" {
			column = "text"
		}
		return &JSONLines{Path: path, Field: column}, nil
	case ".parquet":
		if column == "" {
			return nil, fmt.Errorf("%w: parquet source needs a column name", domain.ErrInvalidInput)
		}
		return &Parquet{Path: path, Column: column}, nil
	case ".txt", "":
		return &Lines{Path: path}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported input %q", domain.ErrInvalidInput, filepath.Ext(path))
	}
}
