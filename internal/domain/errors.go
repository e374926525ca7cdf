package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrEmbeddingQuotaExceeded signals an exhausted token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")

	// ErrIO signals a filesystem failure while reading or writing artifacts.
	ErrIO = errors.New("i/o error")
	// ErrCorruptIndex signals an index or blob file that fails structural validation.
	ErrCorruptIndex = errors.New("corrupt index")
	// ErrMalformedRecord signals a single input row that cannot be turned into a record.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrEmptyAnchorSet signals a filter definition without anchor texts.
	ErrEmptyAnchorSet = errors.New("empty anchor set")
	// ErrDimensionMismatch signals vectors or fingerprints of unexpected width.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrSchemeMismatch signals fingerprints produced by a different quantizer.
	ErrSchemeMismatch = errors.New("quantizer scheme mismatch")
	// ErrWriterFault signals that the output writer crashed mid-run.
	ErrWriterFault = errors.New("writer fault")
	// ErrInvalidThreshold signals a threshold outside its valid range.
	ErrInvalidThreshold = errors.New("invalid threshold")
	// ErrInvalidInput signals a request that cannot be processed as given.
	ErrInvalidInput = errors.New("invalid input")
)

// KeyPrefix namespaces every key bitlens writes to a shared key-value store.
const KeyPrefix = "bitlens:"

// Stage names used in StageError.
const (
	StageFilter = "filter"
	StageIngest = "ingest"
	StageBake   = "bake"
	StageScan   = "scan"
)

// StageError names the stage and the file or record that failed.
type StageError struct {
	Stage  string
	Path   string
	Record int64 // 0-based ordinal, -1 when not tied to a record
	Err    error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Record >= 0 {
		fmt.Fprintf(&b, " record %d", e.Record)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with the stage and path; the record ordinal is left unset.
func NewStageError(stage, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Path: path, Record: -1, Err: err}
}
