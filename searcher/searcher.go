// Package searcher answers similarity queries against the current snapshot:
// embed the query, search the vector index and resolve provenance for each
// candidate.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/raggo/embedder"
	"github.com/hupe1980/raggo/lifecycle"
	"github.com/hupe1980/raggo/metastore"
	"github.com/hupe1980/raggo/model"
)

// SnapshotProvider yields the snapshot queries run against. The lifecycle
// manager satisfies this; queries always hit the last fresh snapshot, even
// mid-rebuild.
type SnapshotProvider interface {
	Active() *lifecycle.Snapshot
}

// Options contains configuration options for the searcher.
type Options struct {
	Logger *slog.Logger
}

// Searcher resolves text queries to ranked, provenance-backed results.
type Searcher struct {
	opts     Options
	provider SnapshotProvider
	embedder embedder.Embedder
}

// New creates a new searcher.
func New(provider SnapshotProvider, emb embedder.Embedder, optFns ...func(o *Options)) (*Searcher, error) {
	var opts Options

	for _, fn := range optFns {
		fn(&opts)
	}

	if provider == nil {
		return nil, errors.New("searcher: snapshot provider must not be nil")
	}
	if emb == nil {
		return nil, errors.New("searcher: embedder must not be nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Searcher{opts: opts, provider: provider, embedder: emb}, nil
}

// Search returns up to k results ordered by descending score. Candidates
// whose metadata record is missing are dropped with a warning; a correctly
// validated snapshot never produces any.
func (s *Searcher) Search(ctx context.Context, text string, k int) ([]model.SearchResult, error) {
	snap := s.provider.Active()
	if snap == nil {
		return nil, lifecycle.ErrIndexUnavailable
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("searcher: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("searcher: embedder returned %d vectors for one query", len(vectors))
	}

	candidates, err := snap.Index.Search(vectors[0], k)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(candidates))
	for _, cand := range candidates {
		prov, err := snap.Meta.Get(cand.ChunkID)
		if err != nil {
			if errors.Is(err, metastore.ErrNotFound) {
				s.opts.Logger.Warn("dropping orphaned candidate",
					"chunk", cand.ChunkID,
					"snapshot", snap.ID,
				)
				continue
			}
			return nil, err
		}
		results = append(results, model.SearchResult{
			Text:       prov.Text,
			Provenance: prov,
			Score:      cand.Score,
		})
	}

	return results, nil
}
