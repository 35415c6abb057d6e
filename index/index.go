// Package index defines the vector index contract used by the lifecycle
// manager and the query engine.
//
// The interface permits approximate nearest-neighbor implementations; the
// flat sub-package is exact, which is the right trade-off below ~100K chunks.
package index

import (
	"errors"

	"github.com/hupe1980/raggo/model"
)

var (
	// ErrDimensionMismatch is returned when a vector's dimension differs
	// from the index dimension. Mixing dimensions is a fatal inconsistency.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

	// ErrModelMismatch is returned when a vector record carries a different
	// embedding model identifier than the index.
	ErrModelMismatch = errors.New("index: embedding model mismatch")

	// ErrDuplicateID is returned when a record's chunk id is already present
	// in the index. Chunk ids must be globally unique across the corpus.
	ErrDuplicateID = errors.New("index: duplicate chunk id")

	// ErrInvalidK is returned when a search is requested with k <= 0.
	ErrInvalidK = errors.New("index: k must be > 0")
)

// Metric identifies the similarity scoring used by an index. It is fixed at
// build time, recorded in the persisted header and enforced on load, so build
// and query always agree.
type Metric uint8

const (
	// MetricCosine scores by inner product over L2-normalized vectors,
	// which equals cosine similarity. Vectors are normalized on insert and
	// queries are normalized on search.
	MetricCosine Metric = 1

	// MetricInnerProduct scores by raw inner product without normalization.
	MetricInnerProduct Metric = 2
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricInnerProduct:
		return "inner-product"
	default:
		return "unknown"
	}
}

// Index is a similarity-search structure over chunk vectors.
//
// Implementations must keep dimension and embedding model uniform across all
// records and must return search results ordered by descending score.
type Index interface {
	// Add appends vector records to the index.
	Add(records []model.VectorRecord) error

	// Search returns up to k candidates ordered by descending score.
	Search(query []float32, k int) ([]model.Candidate, error)

	// Len returns the number of live vectors.
	Len() int

	// Dimension returns the index dimension, or 0 if empty.
	Dimension() int

	// Model returns the embedding model identifier, or "" if empty.
	Model() string

	// IDs returns the chunk ids of all live vectors, sorted. Used for
	// bijection validation against the metadata store.
	IDs() []model.ChunkID
}
