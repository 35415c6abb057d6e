package raggo

import (
	"runtime"
	"time"

	"github.com/hupe1980/raggo/blobstore"
	"github.com/hupe1980/raggo/codec"
	"github.com/hupe1980/raggo/index"
	"github.com/hupe1980/raggo/index/flat"
	"github.com/hupe1980/raggo/loader"
	"github.com/hupe1980/raggo/summarizer"
)

type options struct {
	logger           *Logger
	codec            codec.Codec
	chunkSize        int
	chunkOverlap     int
	batchSize        int
	maxRetries       int
	retryBackoff     time.Duration
	rateLimit        float64
	rateBurst        int
	workers          int
	failureThreshold int
	metric           index.Metric
	compression      flat.Compression
	defaultK         int
	keepSnapshots    int
	mmap             bool
	extensions       []string
	loaders          []loader.Loader
	summarizer       summarizer.Summarizer
	replica          blobstore.Store
}

func defaultOptions() options {
	return options{
		logger:           NewLogger(nil),
		codec:            codec.Default,
		chunkSize:        1000,
		chunkOverlap:     200,
		batchSize:        32,
		maxRetries:       3,
		retryBackoff:     200 * time.Millisecond,
		workers:          runtime.NumCPU(),
		failureThreshold: 0,
		metric:           index.MetricCosine,
		compression:      flat.CompressionZSTD,
		defaultK:         5,
		keepSnapshots:    1,
		summarizer:       summarizer.NewFrequency(),
	}
}

// Option configures engine behavior at construction time.
type Option func(*options)

// WithLogger configures the logger. If nil is passed, the default text
// logger is used.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NewLogger(nil)
		}
		o.logger = l
	}
}

// WithCodec configures the codec used for persisted manifests, metadata and
// the index id table.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithChunking configures the sliding-window chunking parameters in runes.
// Overlap must be smaller than size. Changing either makes existing
// snapshots stale: the next Refresh rebuilds with the new parameters.
func WithChunking(size, overlap int) Option {
	return func(o *options) {
		o.chunkSize = size
		o.chunkOverlap = overlap
	}
}

// WithBatchSize configures how many chunk texts are embedded per API call.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithRetry configures per-batch embedding retries and the initial backoff.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(o *options) {
		o.maxRetries = maxRetries
		o.retryBackoff = backoff
	}
}

// WithRateLimit throttles embedding requests to limit requests per second
// with the given burst. Zero disables throttling.
func WithRateLimit(limit float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = limit
		o.rateBurst = burst
	}
}

// WithWorkers configures the fixed size of the rebuild worker pool.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithFailureThreshold configures how many per-document failures a rebuild
// tolerates before aborting. The default is 0: any unreadable document
// aborts the rebuild.
func WithFailureThreshold(n int) Option {
	return func(o *options) {
		o.failureThreshold = n
	}
}

// WithMetric configures the similarity metric of newly built indexes.
func WithMetric(m index.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithCompression configures the block compression of persisted vector
// sections.
func WithCompression(c flat.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithDefaultK configures the result count used when Search is called with
// k <= 0.
func WithDefaultK(k int) Option {
	return func(o *options) {
		o.defaultK = k
	}
}

// WithKeepSnapshots configures how many snapshot generations are retained
// after a successful rebuild.
func WithKeepSnapshots(n int) Option {
	return func(o *options) {
		o.keepSnapshots = n
	}
}

// WithMmap parses snapshot vector files through a read-only memory mapping
// instead of reading them into the heap first, bounding peak memory while a
// snapshot loads. The decoded index is heap-resident either way; the mapping
// is released once loading completes.
func WithMmap(enabled bool) Option {
	return func(o *options) {
		o.mmap = enabled
	}
}

// WithExtensions restricts ingestion to a subset of the supported file
// extensions (e.g. ".md"). Empty means all supported extensions.
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.extensions = exts
	}
}

// WithLoaders registers additional document loaders (e.g. a PDF parser) on
// top of the built-in text, CSV and JSON loaders.
func WithLoaders(loaders ...loader.Loader) Option {
	return func(o *options) {
		o.loaders = append(o.loaders, loaders...)
	}
}

// WithSummarizer configures the summarizer used by SearchAndSummarize.
// The default is the local extractive summarizer.
func WithSummarizer(s summarizer.Summarizer) Option {
	return func(o *options) {
		if s == nil {
			s = summarizer.NewFrequency()
		}
		o.summarizer = s
	}
}

// WithReplication ships every committed snapshot to the given blob store.
// Replication failures are logged, never fatal.
func WithReplication(store blobstore.Store) Option {
	return func(o *options) {
		o.replica = store
	}
}
