package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIOptions contains configuration options for the OpenAI-compatible client.
type OpenAIOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// DefaultOpenAIOptions contains the default configuration options for the
// OpenAI-compatible client.
var DefaultOpenAIOptions = OpenAIOptions{
	BaseURL:     "https://api.openai.com/v1",
	Model:       "gpt-4o-mini",
	Temperature: 0.2,
	Timeout:     60 * time.Second,
}

// OpenAI is a chat-completions client for OpenAI-compatible APIs.
type OpenAI struct {
	opts   OpenAIOptions
	client *http.Client
}

var _ Summarizer = (*OpenAI)(nil)

// NewOpenAI creates a new OpenAI-compatible chat client.
func NewOpenAI(optFns ...func(o *OpenAIOptions)) (*OpenAI, error) {
	opts := DefaultOpenAIOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Model == "" {
		return nil, fmt.Errorf("summarizer: model must not be empty")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &OpenAI{opts: opts, client: client}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize sends the joined context passages to the chat endpoint and
// returns the generated summary.
func (o *OpenAI) Summarize(ctx context.Context, query string, contexts []string) (string, error) {
	prompt := fmt.Sprintf("Summarize the following context for the query: %s\n\nContext:\n%s",
		query, strings.Join(contexts, "\n\n"))

	body, err := json.Marshal(chatRequest{
		Model: o.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You summarize retrieved documents for a search query."},
			{Role: "user", Content: prompt},
		},
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("summarizer: chat request failed: %s: %s", resp.Status, truncate(payload, 200))
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("summarizer: decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("summarizer: chat response has no choices")
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
