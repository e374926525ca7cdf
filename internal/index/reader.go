package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"sync/atomic"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

// ErrClosed is returned when reading from a closed Reader.
var ErrClosed = errors.New("index: reader is closed")

type mapping struct {
	data  []byte
	unmap func([]byte) error
}

func openMapping(path string) (*mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &mapping{}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("file of %d bytes cannot be mapped", size)
	}
	data, unmap, err := mapFile(f, int(size))
	if err != nil {
		return nil, err
	}
	return &mapping{data: data, unmap: unmap}, nil
}

func (m *mapping) close() error {
	if m == nil || m.unmap == nil || m.data == nil {
		return nil
	}
	return m.unmap(m.data)
}

// Reader gives random access to a committed index/blob pair through read-only
// memory maps. Safe for concurrent reads until Close.
type Reader struct {
	index  *mapping
	blob   *mapping
	header Header
	count  int
	closed atomic.Bool
}

// Open maps both files and validates the index structure.
// A missing blob or a malformed index yields ErrCorruptIndex.
func Open(indexPath, blobPath string) (*Reader, error) {
	idx, err := openMapping(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open index: %w", domain.ErrIO, err)
	}

	header, err := DecodeHeader(idx.data)
	if err != nil {
		_ = idx.close()
		return nil, err
	}
	count, err := recordCount(len(idx.data)-HeaderSize, header.RecordSize)
	if err != nil {
		_ = idx.close()
		return nil, err
	}

	blob, err := openMapping(blobPath)
	if err != nil {
		_ = idx.close()
		return nil, fmt.Errorf("%w: open blob: %w", domain.ErrCorruptIndex, err)
	}

	adviseSequential(idx.data)
	return &Reader{
		index:  idx,
		blob:   blob,
		header: header,
		count:  count,
	}, nil
}

func recordCount(body, recordSize int) (int, error) {
	if body%recordSize != 0 {
		return 0, fmt.Errorf("%w: %d body bytes is not a multiple of record size %d",
			domain.ErrCorruptIndex, body, recordSize)
	}
	n := body / recordSize
	if int64(n) > MaxRecords {
		return 0, fmt.Errorf("%w: %d records exceed the %d limit", domain.ErrCorruptIndex, n, MaxRecords)
	}
	return n, nil
}

// Len returns the number of records.
func (r *Reader) Len() int { return r.count }

// Words returns the hash width in words.
func (r *Reader) Words() int { return r.header.Words }

// BlobSize returns the blob length in bytes.
func (r *Reader) BlobSize() int { return len(r.blob.data) }

func (r *Reader) record(i int) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if i < 0 || i >= r.count {
		return nil, fmt.Errorf("%w: record %d out of range [0,%d)", domain.ErrCorruptIndex, i, r.count)
	}
	start := HeaderSize + i*r.header.RecordSize
	return r.index.data[start : start+r.header.RecordSize], nil
}

// Entry decodes record i.
func (r *Reader) Entry(i int) (Entry, error) {
	rec, err := r.record(i)
	if err != nil {
		return Entry{}, err
	}
	return DecodeEntry(rec, r.header.Words)
}

// Hamming returns the distance between record i's hash and q without allocating.
func (r *Reader) Hamming(i int, q fingerprint.Fingerprint) (int, error) {
	if len(q) != r.header.Words {
		return 0, fmt.Errorf("%w: query has %d words, index has %d",
			domain.ErrDimensionMismatch, len(q), r.header.Words)
	}
	rec, err := r.record(i)
	if err != nil {
		return 0, err
	}
	d := 0
	for w, qw := range q {
		d += bits.OnesCount64(binary.LittleEndian.Uint64(rec[w*8:]) ^ qw)
	}
	return d, nil
}

// Span returns the blob offset and length of record i.
func (r *Reader) Span(i int) (uint64, uint32, error) {
	rec, err := r.record(i)
	if err != nil {
		return 0, 0, err
	}
	off := r.header.Words * 8
	return binary.LittleEndian.Uint64(rec[off:]), binary.LittleEndian.Uint32(rec[off+8:]), nil
}

// Text returns the blob bytes referenced by e. The slice aliases the mapping and
// is only valid until Close.
func (r *Reader) Text(e Entry) ([]byte, error) {
	return r.text(e.Offset, e.Length)
}

func (r *Reader) text(offset uint64, length uint32) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	end := offset + uint64(length)
	if end < offset || end > uint64(len(r.blob.data)) {
		return nil, fmt.Errorf("%w: span [%d,%d) exceeds blob of %d bytes",
			domain.ErrCorruptIndex, offset, end, len(r.blob.data))
	}
	return r.blob.data[offset:end], nil
}

// TextAt returns the text bytes of record i.
func (r *Reader) TextAt(i int) ([]byte, error) {
	off, n, err := r.Span(i)
	if err != nil {
		return nil, err
	}
	return r.text(off, n)
}

// Verify checks that record spans partition the blob in order.
func (r *Reader) Verify() error {
	var next uint64
	for i := range r.count {
		off, n, err := r.Span(i)
		if err != nil {
			return err
		}
		if off != next {
			return fmt.Errorf("%w: record %d starts at %d, want %d", domain.ErrCorruptIndex, i, off, next)
		}
		next = off + uint64(n)
	}
	if next != uint64(len(r.blob.data)) {
		return fmt.Errorf("%w: records cover %d bytes, blob has %d", domain.ErrCorruptIndex, next, len(r.blob.data))
	}
	return nil
}

// Close unmaps both files. Idempotent.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return errors.Join(r.index.close(), r.blob.close())
}
