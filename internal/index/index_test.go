package index

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/fingerprint"
)

func paths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "data.idx"), filepath.Join(dir, "data.blob")
}

func bake(t *testing.T, words int, hashes []fingerprint.Fingerprint, texts []string) (string, string) {
	t.Helper()
	idxPath, blobPath := paths(t)
	w, err := Create(idxPath, blobPath, words)
	require.NoError(t, err)
	for i := range texts {
		require.NoError(t, w.Append(hashes[i], texts[i]))
	}
	require.NoError(t, w.Commit())
	return idxPath, blobPath
}

func TestEntryCodec_SingleWordIs20Bytes(t *testing.T) {
	assert.Equal(t, 20, RecordSize(1))
	assert.Equal(t, 60, RecordSize(6))

	buf := make([]byte, RecordSize(1))
	e := Entry{Hash: fingerprint.Fingerprint{0x0102030405060708}, Offset: 42, Length: 7}
	require.NoError(t, EncodeEntry(buf, e))

	assert.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(buf[0:8]))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(buf[8:16]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[16:20]))

	got, err := DecodeEntry(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEntryCodec_BoundsChecked(t *testing.T) {
	err := EncodeEntry(make([]byte, 10), Entry{Hash: fingerprint.Fingerprint{1}})
	assert.Error(t, err)

	_, err = DecodeEntry(make([]byte, 19), 1)
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)
}

func TestHeader(t *testing.T) {
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, 6)
	assert.Equal(t, "BLNX", string(buf[:4]))

	h, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, 6, h.Words)
	assert.Equal(t, 60, h.RecordSize)

	bad := append([]byte(nil), buf...)
	copy(bad, "NOPE")
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)

	bad = append([]byte(nil), buf...)
	binary.LittleEndian.PutUint32(bad[12:], 21)
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)

	_, err = DecodeHeader(buf[:8])
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)
}

func TestWriterReader_RoundTrip(t *testing.T) {
	hashes := []fingerprint.Fingerprint{{0x1}, {0xFF}, {0}}
	texts := []string{"alpha", "", "γάμμα"}
	idxPath, blobPath := bake(t, 1, hashes, texts)

	fi, err := os.Stat(idxPath)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+3*20), fi.Size())

	fi, err = os.Stat(blobPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len("alpha")+len("γάμμα")), fi.Size())

	r, err := Open(idxPath, blobPath)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 3, r.Len())
	assert.Equal(t, 1, r.Words())
	require.NoError(t, r.Verify())

	for i := range texts {
		e, err := r.Entry(i)
		require.NoError(t, err)
		assert.True(t, hashes[i].Equal(e.Hash))
		b, err := r.Text(e)
		require.NoError(t, err)
		assert.Equal(t, texts[i], string(b))

		d, err := r.Hamming(i, fingerprint.Fingerprint{0})
		require.NoError(t, err)
		assert.Equal(t, fingerprint.Hamming(hashes[i], fingerprint.Fingerprint{0}), d)
	}

	e, err := r.Entry(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), e.Offset)
}

func TestWriterReader_MultiWord(t *testing.T) {
	hashes := []fingerprint.Fingerprint{{1, 2, 3, 4, 5, 6}, {6, 5, 4, 3, 2, 1}}
	idxPath, blobPath := bake(t, 6, hashes, []string{"one", "two"})

	r, err := Open(idxPath, blobPath)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 6, r.Words())
	e, err := r.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, hashes[1], e.Hash)

	_, err = r.Hamming(0, fingerprint.Fingerprint{1})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestWriter_CommitIsAtomic(t *testing.T) {
	idxPath, blobPath := paths(t)
	w, err := Create(idxPath, blobPath, 1)
	require.NoError(t, err)
	require.NoError(t, w.Append(fingerprint.Fingerprint{1}, "x"))

	_, err = os.Stat(idxPath)
	assert.True(t, os.IsNotExist(err), "target must not exist before commit")

	require.NoError(t, w.Commit())
	_, err = os.Stat(idxPath)
	assert.NoError(t, err)
	_, err = os.Stat(idxPath + tmpSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_AbortRemovesTemps(t *testing.T) {
	idxPath, blobPath := paths(t)
	w, err := Create(idxPath, blobPath, 1)
	require.NoError(t, err)
	require.NoError(t, w.Append(fingerprint.Fingerprint{1}, "x"))
	w.Abort()
	w.Abort()

	for _, p := range []string{idxPath, blobPath, idxPath + tmpSuffix, blobPath + tmpSuffix} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	assert.Error(t, w.Append(fingerprint.Fingerprint{1}, "y"))
}

func TestWriter_RejectsWrongWidth(t *testing.T) {
	idxPath, blobPath := paths(t)
	w, err := Create(idxPath, blobPath, 1)
	require.NoError(t, err)
	defer w.Abort()

	err = w.Append(fingerprint.Fingerprint{1, 2}, "x")
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestWriter_EmptyIndex(t *testing.T) {
	idxPath, blobPath := bake(t, 1, nil, nil)
	r, err := Open(idxPath, blobPath)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 0, r.Len())
	assert.NoError(t, r.Verify())
}

func TestOpen_TruncatedIndex(t *testing.T) {
	idxPath, blobPath := bake(t, 1, []fingerprint.Fingerprint{{1}}, []string{"abc"})
	data, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(idxPath, data[:len(data)-3], 0o644))

	_, err = Open(idxPath, blobPath)
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)
}

func TestRecordCount_Limit(t *testing.T) {
	n, err := recordCount(3*RecordSize(1), RecordSize(1))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	if strconv.IntSize < 64 {
		t.Skip("record limit is unreachable with 32-bit ints")
	}
	over := MaxRecords + 1
	_, err = recordCount(int(over*int64(RecordSize(1))), RecordSize(1))
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)

	atLimit := MaxRecords
	n, err = recordCount(int(atLimit*int64(RecordSize(1))), RecordSize(1))
	require.NoError(t, err)
	assert.Equal(t, MaxRecords, int64(n))
}

func TestWriter_RejectsAppendPastLimit(t *testing.T) {
	idxPath, blobPath := paths(t)
	w, err := Create(idxPath, blobPath, 1)
	require.NoError(t, err)
	defer w.Abort()
	w.limit = 2

	require.NoError(t, w.Append(fingerprint.Fingerprint{1}, "a"))
	require.NoError(t, w.Append(fingerprint.Fingerprint{2}, "b"))
	err = w.Append(fingerprint.Fingerprint{3}, "c")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int64(2), w.Count())
}

func TestOpen_MissingBlob(t *testing.T) {
	idxPath, blobPath := bake(t, 1, []fingerprint.Fingerprint{{1}}, []string{"abc"})
	require.NoError(t, os.Remove(blobPath))

	_, err := Open(idxPath, blobPath)
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)
}

func TestOpen_MissingIndex(t *testing.T) {
	idxPath, blobPath := paths(t)
	_, err := Open(idxPath, blobPath)
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReader_SpanOutOfRange(t *testing.T) {
	idxPath, blobPath := bake(t, 1, []fingerprint.Fingerprint{{1}}, []string{"abcdef"})
	require.NoError(t, os.WriteFile(blobPath, []byte("abc"), 0o644))

	r, err := Open(idxPath, blobPath)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.TextAt(0)
	assert.ErrorIs(t, err, domain.ErrCorruptIndex)
	assert.ErrorIs(t, r.Verify(), domain.ErrCorruptIndex)
}

func TestReader_Close(t *testing.T) {
	idxPath, blobPath := bake(t, 1, []fingerprint.Fingerprint{{1}}, []string{"abc"})
	r, err := Open(idxPath, blobPath)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Entry(0)
	assert.ErrorIs(t, err, ErrClosed)
}
