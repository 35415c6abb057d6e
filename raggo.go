// Package raggo provides an embedded document-retrieval index manager for Go.
//
// Raggo partitions a document corpus into overlapping chunks, embeds them
// through a pluggable model adapter, persists a searchable vector index and
// answers similarity queries feeding an optional summarization step.
//
// The heart of the library is the index lifecycle: the on-disk index is a
// sequence of immutable snapshot directories behind a CURRENT pointer.
// Rebuilds detect corpus drift by content hash, re-ingest in parallel, and
// publish with one atomic rename, so readers always see a complete, validated
// index and never a mix of generations.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	emb, _ := embedder.NewOpenAI(func(o *embedder.OpenAIOptions) {
//	    o.APIKey = os.Getenv("OPENAI_API_KEY")
//	})
//
//	engine, err := raggo.Open(ctx, "./index", []string{"./docs"}, emb)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Re-ingest only if the corpus changed since the last build.
//	engine.Refresh(ctx)
//
//	results, _ := engine.Search(ctx, "how do snapshots work?", 5)
//	summary, _, _ := engine.SearchAndSummarize(ctx, "how do snapshots work?", 5)
//
// Supported corpus formats out of the box: plain text, Markdown, CSV and
// JSON. Additional formats can be registered via WithLoaders.
package raggo

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/embedder"
	"github.com/hupe1980/raggo/lifecycle"
	"github.com/hupe1980/raggo/loader"
	"github.com/hupe1980/raggo/model"
	"github.com/hupe1980/raggo/searcher"
	"github.com/hupe1980/raggo/summarizer"
)

// NoRelevantDocuments is returned by SearchAndSummarize when retrieval finds
// nothing to summarize.
const NoRelevantDocuments = "no relevant documents found"

// Engine ties the corpus, the embedding model and the persisted index
// together. It is safe for concurrent use; queries keep being answered from
// the last fresh snapshot while a rebuild is running.
type Engine struct {
	opts       options
	registry   *loader.Registry
	manager    *lifecycle.Manager
	searcher   *searcher.Searcher
	summarizer summarizer.Summarizer
}

// Open creates an engine for the index at indexPath over the given corpus
// roots. If a snapshot exists on disk it is loaded as-is; otherwise the index
// is built from the corpus. Open never rebuilds an existing snapshot — call
// Refresh to pick up corpus changes.
func Open(ctx context.Context, indexPath string, roots []string, emb embedder.Embedder, optFns ...Option) (*Engine, error) {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	registry := loader.NewRegistry()
	for _, l := range opts.loaders {
		registry.Register(l)
	}

	ch, err := chunker.New(func(o *chunker.Options) {
		o.Size = opts.chunkSize
		o.Overlap = opts.chunkOverlap
	})
	if err != nil {
		return nil, err
	}

	batcher, err := embedder.NewBatcher(emb, func(o *embedder.Options) {
		o.BatchSize = opts.batchSize
		o.MaxRetries = opts.maxRetries
		o.RetryBackoff = opts.retryBackoff
		o.RateLimit = rate.Limit(opts.rateLimit)
		o.Burst = opts.rateBurst
	})
	if err != nil {
		return nil, err
	}

	var replicator *lifecycle.Replicator
	if opts.replica != nil {
		replicator = lifecycle.NewReplicator(opts.replica)
	}

	manager, err := lifecycle.New(indexPath,
		lifecycle.Corpus{Roots: roots, Loader: registry, Extensions: opts.extensions},
		ch, batcher,
		func(o *lifecycle.Options) {
			o.Logger = opts.logger.Logger
			o.Codec = opts.codec
			o.Metric = opts.metric
			o.Compression = opts.compression
			o.Workers = opts.workers
			o.FailureThreshold = opts.failureThreshold
			o.Mmap = opts.mmap
			o.KeepSnapshots = opts.keepSnapshots
			o.Replicator = replicator
		})
	if err != nil {
		return nil, err
	}

	if err := manager.Open(ctx); err != nil {
		return nil, err
	}

	search, err := searcher.New(manager, batcher, func(o *searcher.Options) {
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		opts:       opts,
		registry:   registry,
		manager:    manager,
		searcher:   search,
		summarizer: opts.summarizer,
	}, nil
}

// IsStale reports whether the corpus has drifted from the active snapshot.
func (e *Engine) IsStale(ctx context.Context) (bool, error) {
	return e.manager.IsStale(ctx)
}

// Refresh rebuilds the index if the corpus has drifted from the active
// snapshot. It returns true if a rebuild ran.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	return e.manager.Refresh(ctx)
}

// Rebuild unconditionally rebuilds the index from the corpus.
func (e *Engine) Rebuild(ctx context.Context) error {
	err := e.manager.Rebuild(ctx)
	if err != nil {
		e.opts.logger.LogRebuild(ctx, "", 0, err)
		return err
	}
	snap := e.manager.Active()
	e.opts.logger.LogRebuild(ctx, snap.ID, snap.Index.Len(), nil)
	return nil
}

// State returns the rebuild state of the index.
func (e *Engine) State() lifecycle.State {
	return e.manager.State()
}

// Snapshot returns the active snapshot, or nil before the first build.
func (e *Engine) Snapshot() *lifecycle.Snapshot {
	return e.manager.Active()
}

// Search returns up to k results ordered by descending similarity. If k <= 0
// the configured default is used.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	if k <= 0 {
		k = e.opts.defaultK
	}

	results, err := e.searcher.Search(ctx, query, k)
	e.opts.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

// SearchAndSummarize retrieves the top-k chunks and condenses them into a
// single answer. Summarization is best-effort: on summarizer failure the
// retrieval results are returned together with the error.
func (e *Engine) SearchAndSummarize(ctx context.Context, query string, k int) (string, []model.SearchResult, error) {
	results, err := e.Search(ctx, query, k)
	if err != nil {
		return "", nil, err
	}
	if len(results) == 0 {
		return NoRelevantDocuments, nil, nil
	}

	contexts := make([]string, len(results))
	for i, res := range results {
		contexts[i] = res.Text
	}

	summary, err := e.summarizer.Summarize(ctx, query, contexts)
	e.opts.logger.LogSummarize(ctx, len(contexts), err)
	if err != nil {
		return "", results, fmt.Errorf("raggo: summarize: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		return NoRelevantDocuments, results, nil
	}

	return summary, results, nil
}
