package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// OpenAIOptions contains configuration options for the OpenAI-compatible client.
type OpenAIOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DefaultOpenAIOptions contains the default configuration options for the
// OpenAI-compatible client.
var DefaultOpenAIOptions = OpenAIOptions{
	BaseURL: "https://api.openai.com/v1",
	Model:   "text-embedding-3-small",
	Timeout: 30 * time.Second,
}

// OpenAI is an embeddings client for OpenAI-compatible APIs (including local
// servers such as Ollama that expose the /v1/embeddings shape).
//
// Retries and rate limiting are the Batcher's job; this client performs a
// single request per call.
type OpenAI struct {
	opts      OpenAIOptions
	client    *http.Client
	dimension atomic.Int32 // Learned from the first response
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates a new OpenAI-compatible embeddings client.
func NewOpenAI(optFns ...func(o *OpenAIOptions)) (*OpenAI, error) {
	opts := DefaultOpenAIOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Model == "" {
		return nil, fmt.Errorf("embedder: model must not be empty")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &OpenAI{opts: opts, client: client}, nil
}

// Model returns the embedding model identifier.
func (o *OpenAI) Model() string { return o.opts.Model }

// Dimension returns the vector dimensionality, or 0 before the first call.
func (o *OpenAI) Dimension() int { return int(o.dimension.Load()) }

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests embeddings for texts in a single API call.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingsRequest{Input: texts, Model: o.opts.Model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedder: embeddings request failed: %s: %s", resp.Status, truncate(payload, 200))
	}

	var out embeddingsResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("embedder: decode embeddings response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: got %d embeddings for %d texts", len(out.Data), len(texts))
	}

	// The API is allowed to return entries out of order; index restores it.
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embedder: empty embedding at index %d", i)
		}
		vectors[i] = d.Embedding
	}

	o.dimension.CompareAndSwap(0, int32(len(vectors[0])))
	return vectors, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
