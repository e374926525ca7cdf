package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression algorithms for archived artifacts.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Codec wraps artifact streams in a compression format.
type Codec interface {
	Name() string
	Ext() string
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// NewCodec returns the codec for name. An empty name selects zstd.
func NewCodec(name string) (Codec, error) {
	switch name {
	case CompressionZstd, "":
		return zstdCodec{}, nil
	case CompressionLZ4:
		return lz4Codec{}, nil
	case CompressionNone:
		return noneCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return CompressionZstd }
func (zstdCodec) Ext() string  { return ".zst" }

func (zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func (zstdCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return CompressionLZ4 }
func (lz4Codec) Ext() string  { return ".lz4" }

func (lz4Codec) Compress(w io.Writer) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.ChecksumOption(true)); err != nil {
		return nil, err
	}
	return zw, nil
}

func (lz4Codec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type noneCodec struct{}

func (noneCodec) Name() string { return CompressionNone }
func (noneCodec) Ext() string  { return "" }

func (noneCodec) Compress(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }

func (noneCodec) Decompress(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
