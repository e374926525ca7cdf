// Package sqlite stores the dataset catalog in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kailas-cloud/bitlens/internal/domain"
	"github.com/kailas-cloud/bitlens/internal/domain/dataset"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
  name        TEXT PRIMARY KEY,
  index_path  TEXT NOT NULL,
  blob_path   TEXT NOT NULL,
  records     INTEGER NOT NULL,
  blob_bytes  INTEGER NOT NULL,
  scheme      TEXT NOT NULL,
  input_dim   INTEGER NOT NULL,
  output_dim  INTEGER NOT NULL,
  seed        INTEGER NOT NULL,
  created_at  INTEGER NOT NULL,
  archive_key TEXT NOT NULL DEFAULT ''
)`

const columns = `name, index_path, blob_path, records, blob_bytes, scheme, input_dim, output_dim, seed, created_at, archive_key`

// Catalog implements usecase/dataset.Catalog on SQLite.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at dsn and ensures the schema.
func Open(ctx context.Context, dsn string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite catalog: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create datasets table: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Put inserts or replaces a dataset.
func (c *Catalog) Put(ctx context.Context, ds dataset.Dataset) error {
	d := ds.Descriptor()
	_, err := c.db.ExecContext(ctx, `
INSERT INTO datasets(`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  index_path = excluded.index_path,
  blob_path = excluded.blob_path,
  records = excluded.records,
  blob_bytes = excluded.blob_bytes,
  scheme = excluded.scheme,
  input_dim = excluded.input_dim,
  output_dim = excluded.output_dim,
  seed = excluded.seed,
  created_at = excluded.created_at,
  archive_key = excluded.archive_key`,
		ds.Name(), ds.IndexPath(), ds.BlobPath(), ds.Records(), int64(ds.BlobBytes()),
		d.Scheme, d.InputDim, d.OutputDim, int64(d.Seed), ds.CreatedAt(), ds.ArchiveKey(),
	)
	if err != nil {
		return fmt.Errorf("upsert dataset %s: %w", ds.Name(), err)
	}
	return nil
}

// Get returns the dataset or domain.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, name string) (dataset.Dataset, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+columns+` FROM datasets WHERE name = ?`, name)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dataset.Dataset{}, fmt.Errorf("dataset %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("get dataset %s: %w", name, err)
	}
	return ds, nil
}

// List returns every dataset ordered by name.
func (c *Catalog) List(ctx context.Context) ([]dataset.Dataset, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+columns+` FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	out := []dataset.Dataset{}
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return out, nil
}

// Delete removes a dataset entry or returns domain.ErrNotFound.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete dataset %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("dataset %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

// Ping checks the database handle.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(s scanner) (dataset.Dataset, error) {
	var (
		name, indexPath, blobPath, scheme, archiveKey string
		records, blobBytes, seed, createdAt           int64
		inputDim, outputDim                           int
	)
	if err := s.Scan(&name, &indexPath, &blobPath, &records, &blobBytes,
		&scheme, &inputDim, &outputDim, &seed, &createdAt, &archiveKey); err != nil {
		return dataset.Dataset{}, err
	}
	d := domain.Descriptor{Scheme: scheme, InputDim: inputDim, OutputDim: outputDim, Seed: uint64(seed)}
	return dataset.Reconstruct(name, indexPath, blobPath, records, uint64(blobBytes), d, createdAt, archiveKey), nil
}
