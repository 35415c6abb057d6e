package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Options contains configuration options for the batcher.
type Options struct {
	// BatchSize bounds how many texts are sent to the model per call.
	BatchSize int

	// MaxRetries is the number of retries per failed batch before the
	// failure is escalated.
	MaxRetries int

	// RetryBackoff is the base delay between retries; it doubles per attempt
	// and is capped at 5s.
	RetryBackoff time.Duration

	// RateLimit caps model calls per second. 0 disables rate limiting.
	RateLimit rate.Limit

	// Burst is the rate limiter burst size. Defaults to 1 when rate
	// limiting is enabled.
	Burst int
}

// DefaultOptions contains the default configuration options for the batcher.
var DefaultOptions = Options{
	BatchSize:    32,
	MaxRetries:   3,
	RetryBackoff: 200 * time.Millisecond,
}

// Result reports the outcome of embedding a sequence of texts. Vectors is
// positionally aligned with the input; entries of failed batches are nil.
type Result struct {
	Vectors [][]float32
	Failed  []*BatchError
}

// Batcher wraps an Embedder with batching, per-batch retries and rate
// limiting. A failed batch fails only the texts in that batch.
type Batcher struct {
	inner   Embedder
	opts    Options
	limiter *rate.Limiter
}

var _ Embedder = (*Batcher)(nil)

// NewBatcher creates a batching wrapper around inner.
func NewBatcher(inner Embedder, optFns ...func(o *Options)) (*Batcher, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("embedder: batch size must be > 0, got %d", opts.BatchSize)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("embedder: max retries must be >= 0, got %d", opts.MaxRetries)
	}

	b := &Batcher{inner: inner, opts: opts}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return b, nil
}

// Model returns the wrapped model identifier.
func (b *Batcher) Model() string { return b.inner.Model() }

// Dimension returns the wrapped model dimensionality.
func (b *Batcher) Dimension() int { return b.inner.Dimension() }

// Embed embeds all texts and fails if any batch failed after retries.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := b.EmbedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 {
		errs := make([]error, len(res.Failed))
		for i, be := range res.Failed {
			errs[i] = be
		}
		return nil, errors.Join(errs...)
	}
	return res.Vectors, nil
}

// EmbedAll embeds texts batch by batch and reports partial success: batches
// that still fail after retries are recorded in Result.Failed and leave nil
// vectors at their positions. The returned error is non-nil only for
// unrecoverable conditions (context cancellation).
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) (*Result, error) {
	res := &Result{Vectors: make([][]float32, len(texts))}

	for start := 0; start < len(texts); start += b.opts.BatchSize {
		end := start + b.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := b.embedBatch(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Failed = append(res.Failed, &BatchError{Start: start, End: end, Err: err})
			continue
		}

		copy(res.Vectors[start:end], vectors)
	}

	return res, nil
}

func (b *Batcher) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= b.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(b.opts.RetryBackoff, attempt-1)); err != nil {
				return nil, err
			}
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := b.inner.Embed(ctx, batch)
		if err != nil {
			lastErr = err
			continue
		}
		if len(vectors) != len(batch) {
			// A model that drops or reorders entries breaks the positional
			// chunk-to-vector pairing; treat it as a batch failure.
			lastErr = fmt.Errorf("embedder: got %d vectors for %d texts", len(vectors), len(batch))
			continue
		}
		return vectors, nil
	}

	return nil, lastErr
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultOptions.RetryBackoff
	}
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
