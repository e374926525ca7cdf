// Package dataset describes a baked index registered in the catalog.
package dataset

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kailas-cloud/bitlens/internal/domain"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Dataset is a baked index/blob pair (immutable value object).
type Dataset struct {
	name       string
	indexPath  string
	blobPath   string
	records    int64
	blobBytes  uint64
	descriptor domain.Descriptor
	createdAt  int64
	archiveKey string
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: dataset name is required", domain.ErrInvalidInput)
	}
	if len(name) > 64 {
		return fmt.Errorf("%w: dataset name too long (max 64)", domain.ErrInvalidInput)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: dataset name must be alphanumeric with underscores and hyphens", domain.ErrInvalidInput)
	}
	return nil
}

// New validates and creates a Dataset.
// Name: ^[a-zA-Z0-9_-]+$, 1-64 chars. Paths are required.
func New(
	name, indexPath, blobPath string, records int64, blobBytes uint64, d domain.Descriptor,
) (Dataset, error) {
	if err := validateName(name); err != nil {
		return Dataset{}, err
	}
	if indexPath == "" || blobPath == "" {
		return Dataset{}, fmt.Errorf("%w: dataset %q needs index and blob paths", domain.ErrInvalidInput, name)
	}
	if d.OutputDim <= 0 {
		return Dataset{}, fmt.Errorf("%w: dataset %q has no fingerprint width", domain.ErrInvalidInput, name)
	}
	return Dataset{
		name:       name,
		indexPath:  indexPath,
		blobPath:   blobPath,
		records:    records,
		blobBytes:  blobBytes,
		descriptor: d,
		createdAt:  time.Now().UnixMilli(),
	}, nil
}

// Reconstruct creates a Dataset without validation (storage hydration).
func Reconstruct(
	name, indexPath, blobPath string, records int64, blobBytes uint64,
	d domain.Descriptor, createdAt int64, archiveKey string,
) Dataset {
	return Dataset{
		name:       name,
		indexPath:  indexPath,
		blobPath:   blobPath,
		records:    records,
		blobBytes:  blobBytes,
		descriptor: d,
		createdAt:  createdAt,
		archiveKey: archiveKey,
	}
}

// ValidateName checks a dataset name without building a Dataset.
func ValidateName(name string) error { return validateName(name) }

// Name returns the dataset name.
func (d Dataset) Name() string { return d.name }

// IndexPath returns the local index file path.
func (d Dataset) IndexPath() string { return d.indexPath }

// BlobPath returns the local blob file path.
func (d Dataset) BlobPath() string { return d.blobPath }

// Records returns the number of indexed records.
func (d Dataset) Records() int64 { return d.records }

// BlobBytes returns the blob size in bytes.
func (d Dataset) BlobBytes() uint64 { return d.blobBytes }

// Descriptor returns the quantizer that produced the fingerprints.
func (d Dataset) Descriptor() domain.Descriptor { return d.descriptor }

// CreatedAt returns the bake timestamp (unix millis).
func (d Dataset) CreatedAt() int64 { return d.createdAt }

// ArchiveKey returns the object key prefix of the published copy, empty if unpublished.
func (d Dataset) ArchiveKey() string { return d.archiveKey }

// Published reports whether the dataset has an archived copy.
func (d Dataset) Published() bool { return d.archiveKey != "" }

// WithArchiveKey returns a copy pointing at an archived copy.
func (d Dataset) WithArchiveKey(key string) Dataset {
	d.archiveKey = key
	return d
}

// WithPaths returns a copy pointing at different local files.
func (d Dataset) WithPaths(indexPath, blobPath string) Dataset {
	d.indexPath = indexPath
	d.blobPath = blobPath
	return d
}
