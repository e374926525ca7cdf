package index

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

const (
	tmpSuffix     = ".tmp"
	writerBufSize = 1 << 20
)

// Writer appends records to a new index/blob pair.
// Output goes to temporary files that only replace the targets on Commit.
// A Writer is not safe for concurrent use.
type Writer struct {
	indexPath string
	blobPath  string
	words     int

	indexFile *os.File
	blobFile  *os.File
	indexBuf  *bufio.Writer
	blobBuf   *bufio.Writer
	record    []byte

	offset uint64
	count  int64
	limit  int64
	done   bool
}

// Create starts a new index whose hashes are words 64-bit words wide.
func Create(indexPath, blobPath string, words int) (*Writer, error) {
	if words <= 0 || words > MaxHashWords {
		return nil, fmt.Errorf("%w: hash words %d out of range", domain.ErrDimensionMismatch, words)
	}

	indexFile, err := os.Create(indexPath + tmpSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: create index: %w", domain.ErrIO, err)
	}
	blobFile, err := os.Create(blobPath + tmpSuffix)
	if err != nil {
		_ = indexFile.Close()
		_ = os.Remove(indexFile.Name())
		return nil, fmt.Errorf("%w: create blob: %w", domain.ErrIO, err)
	}

	w := &Writer{
		indexPath: indexPath,
		blobPath:  blobPath,
		words:     words,
		indexFile: indexFile,
		blobFile:  blobFile,
		indexBuf:  bufio.NewWriterSize(indexFile, writerBufSize),
		blobBuf:   bufio.NewWriterSize(blobFile, writerBufSize),
		record:    make([]byte, RecordSize(words)),
		limit:     MaxRecords,
	}

	var header [HeaderSize]byte
	EncodeHeader(header[:], words)
	if _, err := w.indexBuf.Write(header[:]); err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: write header: %w", domain.ErrIO, err)
	}
	return w, nil
}

// Append writes text to the blob and its record to the index.
func (w *Writer) Append(hash fingerprint.Fingerprint, text string) error {
	if w.done {
		return fmt.Errorf("%w: append after commit or abort", domain.ErrIO)
	}
	if len(hash) != w.words {
		return fmt.Errorf("%w: hash has %d words, index has %d", domain.ErrDimensionMismatch, len(hash), w.words)
	}
	if w.count >= w.limit {
		return fmt.Errorf("%w: index is full at %d records", domain.ErrInvalidInput, w.count)
	}
	if len(text) > math.MaxUint32 {
		return fmt.Errorf("%w: text of %d bytes exceeds record limit", domain.ErrMalformedRecord, len(text))
	}

	if _, err := w.blobBuf.WriteString(text); err != nil {
		return fmt.Errorf("%w: write blob: %w", domain.ErrIO, err)
	}
	e := Entry{Hash: hash, Offset: w.offset, Length: uint32(len(text))}
	if err := EncodeEntry(w.record, e); err != nil {
		return err
	}
	if _, err := w.indexBuf.Write(w.record); err != nil {
		return fmt.Errorf("%w: write index: %w", domain.ErrIO, err)
	}
	w.offset += uint64(len(text))
	w.count++
	return nil
}

// Count returns the number of appended records.
func (w *Writer) Count() int64 { return w.count }

// BlobSize returns the number of text bytes appended.
func (w *Writer) BlobSize() uint64 { return w.offset }

// Words returns the hash width in words.
func (w *Writer) Words() int { return w.words }

// Commit flushes, syncs and renames both files into place.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("%w: commit after commit or abort", domain.ErrIO)
	}
	if err := w.finish(w.indexBuf, w.indexFile); err != nil {
		w.Abort()
		return err
	}
	if err := w.finish(w.blobBuf, w.blobFile); err != nil {
		w.Abort()
		return err
	}
	if err := os.Rename(w.blobPath+tmpSuffix, w.blobPath); err != nil {
		w.Abort()
		return fmt.Errorf("%w: rename blob: %w", domain.ErrIO, err)
	}
	if err := os.Rename(w.indexPath+tmpSuffix, w.indexPath); err != nil {
		w.Abort()
		_ = os.Remove(w.blobPath)
		return fmt.Errorf("%w: rename index: %w", domain.ErrIO, err)
	}
	w.done = true
	return nil
}

func (w *Writer) finish(buf *bufio.Writer, f *os.File) error {
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", domain.ErrIO, f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", domain.ErrIO, f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrIO, f.Name(), err)
	}
	return nil
}

// Abort discards everything written so far. Safe to call more than once.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	for _, f := range []*os.File{w.indexFile, w.blobFile} {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
}
