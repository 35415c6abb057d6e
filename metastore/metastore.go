// Package metastore implements the metadata side-table of a snapshot: the
// mapping from chunk id to provenance (source document, offsets, content
// hash, embedding model).
//
// During a rebuild the staged metastore is always written to disk before the
// vector section is committed. This write-ahead ordering keeps crash recovery
// trivial: a vector without metadata is always discardable, the reverse never
// happens.
package metastore

import (
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/raggo/model"
)

// ErrNotFound is returned when a chunk id has no metadata entry.
var ErrNotFound = errors.New("metastore: chunk not found")

// Store is an in-memory provenance table with durable encode/decode.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[model.ChunkID]model.Provenance
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[model.ChunkID]model.Provenance)}
}

// Put inserts or replaces the provenance entry for prov.ChunkID.
func (s *Store) Put(prov model.Provenance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[prov.ChunkID] = prov
}

// Get returns the provenance for a chunk id.
func (s *Store) Get(id model.ChunkID) (model.Provenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prov, ok := s.entries[id]
	if !ok {
		return model.Provenance{}, ErrNotFound
	}
	return prov, nil
}

// Delete removes the entry for a chunk id. Deleting a missing id is a no-op.
func (s *Store) Delete(id model.ChunkID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns all provenance entries sorted by chunk id, so encoding the
// store is deterministic.
func (s *Store) All() []model.Provenance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Provenance, 0, len(s.entries))
	for _, prov := range s.entries {
		out = append(out, prov)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}

// IDs returns all chunk ids, sorted. Used for bijection validation against
// the vector index.
func (s *Store) IDs() []model.ChunkID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ChunkID, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
