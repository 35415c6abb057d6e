// Package chunker splits document text into overlapping windows, the unit of
// embedding and retrieval.
//
// Chunking is a pure function of document content and parameters: the same
// text with the same window size and overlap always yields the same chunks
// with the same ids and offsets. Offsets are rune-based so windows never cut
// a UTF-8 sequence.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/raggo/model"
)

// ErrMalformedInput is returned when a document's text is empty or
// whitespace-only after loading.
var ErrMalformedInput = errors.New("chunker: document text is empty")

// Options contains configuration options for the chunker.
type Options struct {
	// Size is the window length in runes. Must be > 0.
	Size int

	// Overlap is the number of runes shared between consecutive windows.
	// Must be >= 0 and < Size.
	Overlap int
}

// DefaultOptions contains the default configuration options for the chunker.
var DefaultOptions = Options{
	Size:    1000,
	Overlap: 200,
}

// Chunker cuts documents into fixed-size overlapping windows.
type Chunker struct {
	opts Options
}

// New creates a new chunker.
func New(optFns ...func(o *Options)) (*Chunker, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Size <= 0 {
		return nil, fmt.Errorf("chunker: size must be > 0, got %d", opts.Size)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		return nil, fmt.Errorf("chunker: overlap must be in [0, size), got %d", opts.Overlap)
	}

	return &Chunker{opts: opts}, nil
}

// Size returns the configured window length in runes.
func (c *Chunker) Size() int { return c.opts.Size }

// Overlap returns the configured window overlap in runes.
func (c *Chunker) Overlap() int { return c.opts.Overlap }

// Chunk cuts the document into windows. The trailing fragment shorter than
// the window size is kept as a final chunk, never dropped.
func (c *Chunker) Chunk(doc model.Document) ([]model.Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedInput, doc.ID)
	}

	runes := []rune(doc.Text)
	step := c.opts.Size - c.opts.Overlap

	var chunks []model.Chunk
	for start, seq := 0, 0; start < len(runes); start, seq = start+step, seq+1 {
		end := start + c.opts.Size
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, model.Chunk{
			ID:           model.NewChunkID(doc.ID, start, end),
			DocumentID:   doc.ID,
			Text:         string(runes[start:end]),
			Start:        start,
			End:          end,
			Overlap:      c.opts.Overlap,
			DocumentHash: doc.ContentHash,
			Seq:          seq,
		})

		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}
