// Package embedder wraps the embedding model behind one interface and adds
// batching, retries and rate limiting on top of it.
//
// The model itself is a black box: text in, fixed-dimension vector out. The
// adapter guarantees order preservation and 1:1 cardinality between input
// texts and output vectors, which the rebuild pipeline relies on to pair
// chunks with their vectors positionally.
package embedder

import (
	"context"
	"fmt"
)

// Embedder converts batches of texts into fixed-dimension vectors.
//
// Implementations must preserve input order and return exactly one vector per
// input text. Model and Dimension are static properties of the adapter.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model identifier (including version where
	// the provider exposes one). Vectors from different models must never be
	// mixed in one index.
	Model() string

	// Dimension returns the vector dimensionality, or 0 if not yet known
	// (some providers only reveal it with the first response).
	Dimension() int
}

// BatchError wraps a failed embedding batch. Start/End are the half-open
// input positions of the failed batch, so callers can report partial success
// and decide a retry policy per batch.
type BatchError struct {
	Start int
	End   int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedder: batch [%d:%d] failed: %v", e.Start, e.End, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
