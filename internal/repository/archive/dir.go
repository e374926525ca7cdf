package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/bitlens/internal/domain"
)

// DirStore keeps objects as files under a root directory.
type DirStore struct {
	root string
}

// NewDirStore creates the root directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return &DirStore{root: root}, nil
}

func (d *DirStore) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

// Put writes r to key through a temp file and rename.
func (d *DirStore) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	f, err := os.Create(p + ".tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p + ".tmp")
		return fmt.Errorf("%w: write %s: %w", domain.ErrIO, key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p + ".tmp")
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	if err := os.Rename(p+".tmp", p); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return nil
}

// Get opens key for reading.
func (d *DirStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return f, nil
}

// Delete removes key. A missing key is not an error.
func (d *DirStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return nil
}

// Ping reports whether the root directory is still reachable.
func (d *DirStore) Ping(_ context.Context) error {
	st, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrIO, d.root)
	}
	return nil
}
