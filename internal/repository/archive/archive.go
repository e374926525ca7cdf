// Package archive publishes baked datasets to object storage and fetches them back.
//
// A published dataset lives under "<prefix>/<name>/": the compressed index and blob
// plus a JSON manifest written last, so a fetch never sees a half-published dataset.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/dataset"
	"github.com/kailas-cloud/bitlens/internal/metrics"
)

const (
	manifestName    = "manifest.json"
	manifestVersion = 1
)

// ObjectStore is the consumer interface for a bucket-like key space.
// Get returns domain.ErrNotFound for a missing key. size is -1 when unknown.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Manifest describes one published dataset.
type Manifest struct {
	Version     int               `json:"version"`
	Name        string            `json:"name"`
	Records     int64             `json:"records"`
	IndexBytes  int64             `json:"index_bytes"`
	BlobBytes   uint64            `json:"blob_bytes"`
	Descriptor  domain.Descriptor `json:"descriptor"`
	CreatedAt   int64             `json:"created_at"`
	Compression string            `json:"compression"`
	IndexObject string            `json:"index_object"`
	BlobObject  string            `json:"blob_object"`
	IndexSHA256 string            `json:"index_sha256"`
	BlobSHA256  string            `json:"blob_sha256"`
}

// Service moves dataset artifacts between local disk and an object store.
type Service struct {
	store  ObjectStore
	codec  Codec
	prefix string
	logger *zap.Logger
}

// New creates an archive service. Objects are written under prefix.
func New(store ObjectStore, codec Codec, prefix string, logger *zap.Logger) *Service {
	return &Service{store: store, codec: codec, prefix: prefix, logger: logger}
}

// Key returns the object key prefix for a dataset name.
func (s *Service) Key(name string) string {
	return path.Join(s.prefix, name)
}

// Publish uploads the dataset's index and blob, then its manifest.
// It returns the archive key recorded in the catalog.
func (s *Service) Publish(ctx context.Context, ds dataset.Dataset) (string, error) {
	start := time.Now()
	base := s.Key(ds.Name())
	m := Manifest{
		Version:     manifestVersion,
		Name:        ds.Name(),
		Records:     ds.Records(),
		BlobBytes:   ds.BlobBytes(),
		Descriptor:  ds.Descriptor(),
		CreatedAt:   ds.CreatedAt(),
		Compression: s.codec.Name(),
		IndexObject: "index.bin" + s.codec.Ext(),
		BlobObject:  "blob.bin" + s.codec.Ext(),
	}

	var indexSize, blobSize int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		m.IndexSHA256, indexSize, err = s.upload(gctx, ds.IndexPath(), path.Join(base, m.IndexObject))
		return err
	})
	g.Go(func() error {
		var err error
		m.BlobSHA256, blobSize, err = s.upload(gctx, ds.BlobPath(), path.Join(base, m.BlobObject))
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.ArchiveOpsTotal.WithLabelValues("publish", "error").Inc()
		return "", fmt.Errorf("publish %s: %w", ds.Name(), err)
	}
	if uint64(blobSize) != ds.BlobBytes() {
		metrics.ArchiveOpsTotal.WithLabelValues("publish", "error").Inc()
		return "", fmt.Errorf("publish %s: %w: blob has %d bytes, catalog says %d",
			ds.Name(), domain.ErrCorruptIndex, blobSize, ds.BlobBytes())
	}
	m.IndexBytes = indexSize

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := s.store.Put(ctx, path.Join(base, manifestName), bytes.NewReader(data), int64(len(data))); err != nil {
		metrics.ArchiveOpsTotal.WithLabelValues("publish", "error").Inc()
		return "", fmt.Errorf("publish %s manifest: %w", ds.Name(), err)
	}

	metrics.ArchiveOpsTotal.WithLabelValues("publish", "ok").Inc()
	metrics.ArchiveBytesTotal.WithLabelValues("publish").Add(float64(indexSize + blobSize))
	s.logger.Info("Dataset published",
		zap.String("dataset", ds.Name()),
		zap.String("key", base),
		zap.String("compression", m.Compression),
		zap.Int64("bytes", indexSize+blobSize),
		zap.Duration("duration", time.Since(start)),
	)
	return base, nil
}

// Manifest reads the manifest of a published dataset.
func (s *Service) Manifest(ctx context.Context, name string) (Manifest, error) {
	rc, err := s.store.Get(ctx, path.Join(s.Key(name), manifestName))
	if err != nil {
		return Manifest{}, fmt.Errorf("get manifest %s: %w", name, err)
	}
	defer rc.Close()

	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode manifest %s: %w", domain.ErrCorruptIndex, name, err)
	}
	if m.Version != manifestVersion {
		return Manifest{}, fmt.Errorf("%w: manifest %s has version %d", domain.ErrCorruptIndex, name, m.Version)
	}
	return m, nil
}

// Fetch downloads a published dataset into dir and returns it pointing at the local files.
// Both files are checksummed before they replace anything already in dir.
func (s *Service) Fetch(ctx context.Context, name, dir string) (dataset.Dataset, error) {
	start := time.Now()
	m, err := s.Manifest(ctx, name)
	if err != nil {
		return dataset.Dataset{}, err
	}
	codec, err := NewCodec(m.Compression)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("%w: manifest %s: %w", domain.ErrCorruptIndex, name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dataset.Dataset{}, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}

	base := s.Key(name)
	indexPath := filepath.Join(dir, name+".idx")
	blobPath := filepath.Join(dir, name+".bin")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.download(gctx, codec, path.Join(base, m.IndexObject), indexPath, m.IndexSHA256)
	})
	g.Go(func() error {
		return s.download(gctx, codec, path.Join(base, m.BlobObject), blobPath, m.BlobSHA256)
	})
	if err := g.Wait(); err != nil {
		metrics.ArchiveOpsTotal.WithLabelValues("fetch", "error").Inc()
		removeTemps(indexPath, blobPath)
		return dataset.Dataset{}, fmt.Errorf("fetch %s: %w", name, err)
	}
	for _, p := range []string{indexPath, blobPath} {
		if err := os.Rename(p+".tmp", p); err != nil {
			removeTemps(indexPath, blobPath)
			return dataset.Dataset{}, fmt.Errorf("%w: %w", domain.ErrIO, err)
		}
	}

	metrics.ArchiveOpsTotal.WithLabelValues("fetch", "ok").Inc()
	metrics.ArchiveBytesTotal.WithLabelValues("fetch").Add(float64(m.IndexBytes) + float64(m.BlobBytes))
	s.logger.Info("Dataset fetched",
		zap.String("dataset", name),
		zap.String("dir", dir),
		zap.Int64("records", m.Records),
		zap.Duration("duration", time.Since(start)),
	)
	return dataset.Reconstruct(m.Name, indexPath, blobPath, m.Records, m.BlobBytes,
		m.Descriptor, m.CreatedAt, base), nil
}

// Delete removes every object of a published dataset, manifest first.
func (s *Service) Delete(ctx context.Context, name string) error {
	m, err := s.Manifest(ctx, name)
	if err != nil {
		return err
	}
	base := s.Key(name)
	var errs []error
	for _, obj := range []string{manifestName, m.IndexObject, m.BlobObject} {
		if err := s.store.Delete(ctx, path.Join(base, obj)); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// upload streams a compressed copy of the file at src to key and returns the
// SHA-256 and size of the uncompressed content.
func (s *Service) upload(ctx context.Context, src, key string) (string, int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	sum := sha256.New()
	var n int64
	done := make(chan error, 1)
	go func() {
		zw, err := s.codec.Compress(pw)
		if err == nil {
			n, err = io.Copy(io.MultiWriter(zw, sum), f)
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
		}
		pw.CloseWithError(err)
		done <- err
	}()

	if err := s.store.Put(ctx, key, pr, -1); err != nil {
		pr.CloseWithError(err)
		<-done
		return "", 0, fmt.Errorf("put %s: %w", key, err)
	}
	if err := <-done; err != nil {
		return "", 0, fmt.Errorf("%w: compress %s: %w", domain.ErrIO, src, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), n, nil
}

func (s *Service) download(ctx context.Context, codec Codec, key, dst, want string) error {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer rc.Close()

	zr, err := codec.Decompress(rc)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", domain.ErrCorruptIndex, key, err)
	}
	defer zr.Close()

	f, err := os.Create(dst + ".tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	sum := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, sum), zr); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: download %s: %w", domain.ErrIO, key, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	if got := hex.EncodeToString(sum.Sum(nil)); got != want {
		return fmt.Errorf("%w: %s checksum %s, manifest says %s", domain.ErrCorruptIndex, key, got, want)
	}
	return nil
}

func removeTemps(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p + ".tmp")
	}
}
