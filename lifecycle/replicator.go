package lifecycle

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/hupe1980/raggo/blobstore"
	"github.com/hupe1980/raggo/internal/fs"
)

// Replicator ships committed snapshots to a blob store, file by file, and
// finally updates the remote CURRENT pointer. The pointer is written last so
// a remote reader never resolves it to an incomplete snapshot.
type Replicator struct {
	store blobstore.Store
}

// NewReplicator creates a new replicator targeting the given store.
func NewReplicator(store blobstore.Store) *Replicator {
	return &Replicator{store: store}
}

// Replicate uploads the snapshot directory under its id and commits the
// remote CURRENT pointer.
func (r *Replicator) Replicate(ctx context.Context, fsys fs.FileSystem, dir, id string) error {
	for _, name := range []string{metadataFile, vectorsFile, manifestFile} {
		data, err := fs.ReadFile(fsys, filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("replicate %s: %w", name, err)
		}
		if err := r.store.Put(ctx, path.Join(id, name), data); err != nil {
			return fmt.Errorf("replicate %s: %w", name, err)
		}
	}

	if err := r.store.Put(ctx, currentFile, []byte(id)); err != nil {
		return fmt.Errorf("replicate current pointer: %w", err)
	}
	return nil
}
