// Package datastore persists the file relay's index of stored files.
//
// The default backend is SQLite (modernc.org/sqlite, no cgo). An in-memory
// implementation backs tests and servers started without a database path.
package datastore

import (
	"context"
	"errors"

	"github.com/NicolasHaas/gotalk/pkg/model"
)

// ErrNotFound is returned when a file name has no index entry.
var ErrNotFound = errors.New("datastore: not found")

// FileIndex records metadata about files held by the relay.
type FileIndex interface {
	// RecordUpload inserts or replaces the entry for rec.Name. A replaced
	// entry starts over with zero downloads.
	RecordUpload(ctx context.Context, rec model.FileRecord) error

	// GetFile returns the entry for name, or (nil, nil) if none exists.
	GetFile(ctx context.Context, name string) (*model.FileRecord, error)

	// ListFiles returns all entries ordered by name.
	ListFiles(ctx context.Context) ([]model.FileRecord, error)

	// RecordDownload increments the download counter. Returns ErrNotFound
	// when the file is not indexed.
	RecordDownload(ctx context.Context, name string) error

	// Close releases the underlying storage.
	Close() error
}

// Compile-time checks.
var (
	_ FileIndex = (*SQLStore)(nil)
	_ FileIndex = (*MemoryStore)(nil)
)
