// Package flat provides an exact (brute-force) vector index over chunk
// embeddings, with checksummed binary persistence and optional block
// compression of the vector section.
package flat

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/raggo/index"
	"github.com/hupe1980/raggo/metric"
	"github.com/hupe1980/raggo/model"
)

// Compile-time check that Flat satisfies the index contract.
var _ index.Index = (*Flat)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality. 0 means it is adopted
	// from the first record added.
	Dimension int

	// Metric selects the similarity scoring. Fixed for the index lifetime.
	Metric index.Metric

	// Compression selects the block compression of the persisted vector
	// section.
	Compression Compression
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Dimension:   0,
	Metric:      index.MetricCosine,
	Compression: CompressionZSTD,
}

// Flat is an exact vector index. Rows are dense and append-only; deletions
// are tombstones tracked in a roaring bitmap, so persisted row numbers stay
// stable.
type Flat struct {
	mu      sync.RWMutex
	opts    Options
	model   string
	ids     []model.ChunkID
	rows    map[model.ChunkID]uint32
	vectors [][]float32
	live    *roaring.Bitmap
}

// New creates a new flat index.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension < 0 {
		return nil, fmt.Errorf("flat: dimension must be >= 0, got %d", opts.Dimension)
	}
	switch opts.Metric {
	case index.MetricCosine, index.MetricInnerProduct:
	default:
		return nil, fmt.Errorf("flat: unsupported metric %d", opts.Metric)
	}

	return &Flat{
		opts: opts,
		rows: make(map[model.ChunkID]uint32),
		live: roaring.New(),
	}, nil
}

// Metric returns the similarity metric of the index.
func (f *Flat) Metric() index.Metric { return f.opts.Metric }

// Dimension returns the index dimension, or 0 if empty.
func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.opts.Dimension
}

// Model returns the embedding model identifier, or "" if empty.
func (f *Flat) Model() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.model
}

// Len returns the number of live vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.live.GetCardinality())
}

// Add appends vector records. Dimension and model uniformity are enforced:
// the first record fixes them, any later mismatch is rejected.
func (f *Flat) Add(records []model.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range records {
		if len(rec.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for %s", index.ErrDimensionMismatch, rec.ChunkID)
		}
		if f.opts.Dimension == 0 {
			f.opts.Dimension = len(rec.Vector)
		}
		if len(rec.Vector) != f.opts.Dimension {
			return fmt.Errorf("%w: %s has dimension %d, index has %d",
				index.ErrDimensionMismatch, rec.ChunkID, len(rec.Vector), f.opts.Dimension)
		}
		if f.model == "" {
			f.model = rec.Model
		}
		if rec.Model != f.model {
			return fmt.Errorf("%w: %s embedded with %q, index built with %q",
				index.ErrModelMismatch, rec.ChunkID, rec.Model, f.model)
		}
		if _, exists := f.rows[rec.ChunkID]; exists {
			return fmt.Errorf("%w: %s", index.ErrDuplicateID, rec.ChunkID)
		}

		vec := rec.Vector
		if f.opts.Metric == index.MetricCosine {
			vec = metric.Normalize(vec)
		}

		row := uint32(len(f.vectors))
		f.ids = append(f.ids, rec.ChunkID)
		f.vectors = append(f.vectors, vec)
		f.rows[rec.ChunkID] = row
		f.live.Add(row)
	}

	return nil
}

// Delete tombstones the vector for a chunk id. Deleting a missing id is a
// no-op.
func (f *Flat) Delete(id model.ChunkID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		f.live.Remove(row)
	}
}

// Search returns up to k live candidates ordered by descending score.
func (f *Flat) Search(query []float32, k int) ([]model.Candidate, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.live.IsEmpty() {
		return nil, nil
	}
	if len(query) != f.opts.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d",
			index.ErrDimensionMismatch, len(query), f.opts.Dimension)
	}

	q := query
	if f.opts.Metric == index.MetricCosine {
		q = metric.Normalize(q)
	}

	// Min-heap of size k: the root is the weakest candidate kept so far.
	h := make(candidateHeap, 0, k)
	it := f.live.Iterator()
	for it.HasNext() {
		row := it.Next()
		score := metric.Dot(q, f.vectors[row])

		if len(h) < k {
			heap.Push(&h, model.Candidate{ChunkID: f.ids[row], Score: score})
		} else if score > h[0].Score {
			h[0] = model.Candidate{ChunkID: f.ids[row], Score: score}
			heap.Fix(&h, 0)
		}
	}

	out := make([]model.Candidate, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(model.Candidate)
	}
	return out, nil
}

// IDs returns the chunk ids of all live vectors, sorted.
func (f *Flat) IDs() []model.ChunkID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]model.ChunkID, 0, f.live.GetCardinality())
	it := f.live.Iterator()
	for it.HasNext() {
		out = append(out, f.ids[it.Next()])
	}
	sortChunkIDs(out)
	return out
}

func sortChunkIDs(ids []model.ChunkID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

type candidateHeap []model.Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(model.Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
