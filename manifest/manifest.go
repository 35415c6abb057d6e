// Package manifest records the corpus state an index snapshot was built from.
// Staleness detection is a pure comparison between a persisted manifest and a
// fresh corpus scan.
package manifest

import (
	"fmt"
	"time"

	"github.com/hupe1980/raggo/codec"
	"github.com/hupe1980/raggo/internal/fs"
	"github.com/hupe1980/raggo/model"
)

// Version is the manifest schema version.
const Version = 1

// DocumentInfo is the recorded state of one corpus document.
type DocumentInfo struct {
	// ContentHash is the SHA-256 hex digest of the document text. It is the
	// authority for change detection.
	ContentHash string `json:"contentHash"`

	// ModTime and Size are a fast path only: if both match the recorded
	// values, the stored hash may be reused without re-reading the file.
	ModTime time.Time `json:"modTime"`
	Size    int64     `json:"size"`
}

// Manifest describes the corpus and build parameters behind one snapshot.
type Manifest struct {
	Version        int                               `json:"version"`
	ID             string                            `json:"id"`
	EmbeddingModel string                            `json:"embeddingModel"`
	Dimension      int                               `json:"dimension"`
	ChunkSize      int                               `json:"chunkSize"`
	ChunkOverlap   int                               `json:"chunkOverlap"`
	CreatedAt      time.Time                         `json:"createdAt"`
	Documents      map[model.DocumentID]DocumentInfo `json:"documents"`
}

// New creates an empty manifest with the current schema version.
func New(id string) *Manifest {
	return &Manifest{
		Version:   Version,
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Documents: make(map[model.DocumentID]DocumentInfo),
	}
}

// Changes is the difference between a persisted manifest and a corpus scan.
type Changes struct {
	Added         []model.DocumentID
	Removed       []model.DocumentID
	Modified      []model.DocumentID
	ParamsChanged bool
}

// Any reports whether the changes require a rebuild.
func (c Changes) Any() bool {
	return c.ParamsChanged || len(c.Added) > 0 || len(c.Removed) > 0 || len(c.Modified) > 0
}

// Diff compares a persisted manifest against the current corpus state.
// A nil persisted manifest means nothing has ever been built: every current
// document shows up as added and ParamsChanged is set.
func Diff(persisted, current *Manifest) Changes {
	var ch Changes

	if persisted == nil {
		ch.ParamsChanged = true
		for id := range current.Documents {
			ch.Added = append(ch.Added, id)
		}
		return ch
	}

	if persisted.EmbeddingModel != current.EmbeddingModel ||
		persisted.ChunkSize != current.ChunkSize ||
		persisted.ChunkOverlap != current.ChunkOverlap {
		ch.ParamsChanged = true
	}

	for id, cur := range current.Documents {
		old, ok := persisted.Documents[id]
		if !ok {
			ch.Added = append(ch.Added, id)
			continue
		}
		if old.ContentHash != cur.ContentHash {
			ch.Modified = append(ch.Modified, id)
		}
	}
	for id := range persisted.Documents {
		if _, ok := current.Documents[id]; !ok {
			ch.Removed = append(ch.Removed, id)
		}
	}

	return ch
}

// IsStale reports whether the persisted manifest no longer matches the
// current corpus state. Absent manifest, content-hash mismatch, document
// addition or deletion, and changed build parameters all count as stale.
func IsStale(persisted, current *Manifest) bool {
	return Diff(persisted, current).Any()
}

// Save writes the manifest atomically to path.
func (m *Manifest) Save(fsys fs.FileSystem, path string, c codec.Codec) error {
	if c == nil {
		c = codec.Default
	}
	data, err := c.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	return fs.WriteFileAtomic(fsys, path, data, 0o644)
}

// Load reads a manifest from path.
func Load(fsys fs.FileSystem, path string, c codec.Codec) (*Manifest, error) {
	if c == nil {
		c = codec.Default
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("manifest: %s: unsupported version %d", path, m.Version)
	}
	if m.Documents == nil {
		m.Documents = make(map[model.DocumentID]DocumentInfo)
	}
	return &m, nil
}
