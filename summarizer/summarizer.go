// Package summarizer condenses retrieved context into an answer for the
// query. Two implementations are provided: an OpenAI-compatible chat client
// and a local extractive fallback that needs no network.
package summarizer

import "context"

// Summarizer generates a summary of the given context passages with respect
// to a query.
type Summarizer interface {
	Summarize(ctx context.Context, query string, contexts []string) (string, error)
}
