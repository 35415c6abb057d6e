// Package blobstore provides storage targets for replicating index snapshots.
//
// A Store holds whole objects: snapshot files are written once after a
// successful swap and read back sequentially on restore, so the interface is
// Put/Open/Delete/List rather than ranged reads. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: directory on the local filesystem
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 (optionally with a DynamoDB commit pointer)
//   - minio.Store: MinIO and other S3-compatible storage
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for accessing replicated snapshot blobs.
type Store interface {
	// Put writes a blob atomically under the given name.
	Put(ctx context.Context, name string, data []byte) error

	// Open opens a blob for sequential reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ReadAll reads a whole blob.
func ReadAll(ctx context.Context, store Store, name string) ([]byte, error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
