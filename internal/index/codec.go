// Package index stores fingerprints and their texts in a pair of flat files.
//
// The index file is a 16-byte header followed by fixed-width records; the blob file
// is the concatenation of every record's UTF-8 text. All integers are little-endian.
//
//	header:  magic "BLNX" | version u16 | byte order u8 | reserved u8 |
//	         hash words u16 | reserved u16 | record size u32
//	record:  hash (words x u64) | blob offset u64 | text length u32
//
// With one hash word a record is 20 bytes.
package index

import (
	"encoding/binary"
	"fmt"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

// Format constants.
const (
	Magic         = "BLNX"
	Version       = 1
	HeaderSize    = 16
	LittleEndian  = 1
	MaxHashWords  = 1 << 10
	entryTailSize = 8 + 4
)

// MaxRecords bounds an index so every ordinal fits a uint32.
const MaxRecords int64 = 1 << 32

// RecordSize returns the encoded size of one record with the given hash width.
func RecordSize(words int) int { return words*8 + entryTailSize }

// Entry locates one record's text in the blob.
type Entry struct {
	Hash   fingerprint.Fingerprint
	Offset uint64
	Length uint32
}

// Header is the decoded index file header.
type Header struct {
	Version    uint16
	Words      int
	RecordSize int
}

// EncodeHeader writes the header for words-wide hashes into dst[:HeaderSize].
func EncodeHeader(dst []byte, words int) {
	_ = dst[HeaderSize-1]
	copy(dst[0:4], Magic)
	binary.LittleEndian.PutUint16(dst[4:6], Version)
	dst[6] = LittleEndian
	dst[7] = 0
	binary.LittleEndian.PutUint16(dst[8:10], uint16(words))
	binary.LittleEndian.PutUint16(dst[10:12], 0)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(RecordSize(words)))
}

// DecodeHeader validates and decodes an index header.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header truncated (%d bytes)", domain.ErrCorruptIndex, len(src))
	}
	if string(src[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", domain.ErrCorruptIndex, src[0:4])
	}
	h := Header{
		Version:    binary.LittleEndian.Uint16(src[4:6]),
		Words:      int(binary.LittleEndian.Uint16(src[8:10])),
		RecordSize: int(binary.LittleEndian.Uint32(src[12:16])),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", domain.ErrCorruptIndex, h.Version)
	}
	if src[6] != LittleEndian {
		return Header{}, fmt.Errorf("%w: unsupported byte order %d", domain.ErrCorruptIndex, src[6])
	}
	if h.Words <= 0 || h.Words > MaxHashWords {
		return Header{}, fmt.Errorf("%w: hash words %d out of range", domain.ErrCorruptIndex, h.Words)
	}
	if h.RecordSize != RecordSize(h.Words) {
		return Header{}, fmt.Errorf("%w: record size %d does not match %d hash words",
			domain.ErrCorruptIndex, h.RecordSize, h.Words)
	}
	return h, nil
}

// EncodeEntry writes e into dst[:RecordSize(len(e.Hash))].
func EncodeEntry(dst []byte, e Entry) error {
	size := RecordSize(len(e.Hash))
	if len(dst) < size {
		return fmt.Errorf("encode entry: buffer has %d bytes, need %d", len(dst), size)
	}
	off := 0
	for _, w := range e.Hash {
		binary.LittleEndian.PutUint64(dst[off:], w)
		off += 8
	}
	binary.LittleEndian.PutUint64(dst[off:], e.Offset)
	binary.LittleEndian.PutUint32(dst[off+8:], e.Length)
	return nil
}

// DecodeEntry reads one words-wide record from src.
func DecodeEntry(src []byte, words int) (Entry, error) {
	size := RecordSize(words)
	if words <= 0 || len(src) < size {
		return Entry{}, fmt.Errorf("%w: record needs %d bytes, have %d", domain.ErrCorruptIndex, size, len(src))
	}
	hash := make(fingerprint.Fingerprint, words)
	off := 0
	for i := range hash {
		hash[i] = binary.LittleEndian.Uint64(src[off:])
		off += 8
	}
	return Entry{
		Hash:   hash,
		Offset: binary.LittleEndian.Uint64(src[off:]),
		Length: binary.LittleEndian.Uint32(src[off+8:]),
	}, nil
}
