package summarizer

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// FrequencyOptions contains configuration options for the extractive summarizer.
type FrequencyOptions struct {
	// MaxSentences bounds the number of sentences in the summary.
	MaxSentences int
}

// DefaultFrequencyOptions contains the default configuration options for the
// extractive summarizer.
var DefaultFrequencyOptions = FrequencyOptions{
	MaxSentences: 3,
}

// Frequency is a local extractive summarizer: it scores sentences by the
// frequency of their terms across the context and the query, then returns the
// top sentences in their original order. No network, no model; useful as a
// fallback and in tests.
type Frequency struct {
	opts FrequencyOptions
}

var _ Summarizer = (*Frequency)(nil)

// NewFrequency creates a new extractive summarizer.
func NewFrequency(optFns ...func(o *FrequencyOptions)) *Frequency {
	opts := DefaultFrequencyOptions

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSentences < 1 {
		opts.MaxSentences = 1
	}

	return &Frequency{opts: opts}
}

// Summarize extracts the most representative sentences from the contexts.
func (f *Frequency) Summarize(_ context.Context, query string, contexts []string) (string, error) {
	sentences := splitSentences(strings.Join(contexts, " "))
	if len(sentences) == 0 {
		return "", nil
	}
	if len(sentences) <= f.opts.MaxSentences {
		return strings.Join(sentences, " "), nil
	}

	freq := make(map[string]float64)
	for _, sentence := range sentences {
		for _, term := range terms(sentence) {
			freq[term]++
		}
	}
	// Query terms count double so the summary leans toward the question.
	for _, term := range terms(query) {
		freq[term] += 2
	}

	type scored struct {
		pos   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sentence := range sentences {
		ts := terms(sentence)
		var score float64
		for _, term := range ts {
			score += freq[term]
		}
		if len(ts) > 0 {
			score /= float64(len(ts))
		}
		ranked[i] = scored{pos: i, score: score}
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	top := ranked[:f.opts.MaxSentences]
	sort.Slice(top, func(i, j int) bool { return top[i].pos < top[j].pos })

	out := make([]string, len(top))
	for i, s := range top {
		out[i] = sentences[s.pos]
	}
	return strings.Join(out, " "), nil
}

func splitSentences(text string) []string {
	var sentences []string

	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(sb.String()); s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
