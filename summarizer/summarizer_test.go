package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequency(t *testing.T) {
	t.Run("short context returned verbatim", func(t *testing.T) {
		s := NewFrequency()

		got, err := s.Summarize(context.Background(), "anything", []string{"One sentence. Two sentences."})
		require.NoError(t, err)
		assert.Equal(t, "One sentence. Two sentences.", got)
	})

	t.Run("selects query-relevant sentences in original order", func(t *testing.T) {
		s := NewFrequency(func(o *FrequencyOptions) {
			o.MaxSentences = 2
		})

		contexts := []string{
			"Vector indexes answer similarity queries over embeddings.",
			"The weather was unremarkable on that particular day.",
			"A flat vector index scans every embedding for each query.",
			"Lunch was served at noon.",
		}
		got, err := s.Summarize(context.Background(), "vector index query", contexts)
		require.NoError(t, err)

		assert.Contains(t, got, "Vector indexes")
		assert.Contains(t, got, "flat vector index")
		assert.NotContains(t, got, "weather")
		// Original order preserved.
		assert.Less(t, strings.Index(got, "Vector indexes"), strings.Index(got, "flat vector index"))
	})

	t.Run("empty context", func(t *testing.T) {
		s := NewFrequency()

		got, err := s.Summarize(context.Background(), "query", nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestOpenAI(t *testing.T) {
	t.Run("sends prompt and returns summary", func(t *testing.T) {
		var gotReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": " a concise summary \n"}},
				},
			})
		}))
		defer server.Close()

		s, err := NewOpenAI(func(o *OpenAIOptions) {
			o.BaseURL = server.URL + "/v1"
			o.APIKey = "test-key"
		})
		require.NoError(t, err)

		got, err := s.Summarize(context.Background(), "what is raggo", []string{"ctx one", "ctx two"})
		require.NoError(t, err)
		assert.Equal(t, "a concise summary", got)

		require.Len(t, gotReq.Messages, 2)
		assert.Contains(t, gotReq.Messages[1].Content, "what is raggo")
		assert.Contains(t, gotReq.Messages[1].Content, "ctx one")
		assert.Contains(t, gotReq.Messages[1].Content, "ctx two")
	})

	t.Run("http error surfaces", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer server.Close()

		s, err := NewOpenAI(func(o *OpenAIOptions) {
			o.BaseURL = server.URL + "/v1"
		})
		require.NoError(t, err)

		_, err = s.Summarize(context.Background(), "query", []string{"ctx"})
		assert.Error(t, err)
	})

	t.Run("empty choices rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer server.Close()

		s, err := NewOpenAI(func(o *OpenAIOptions) {
			o.BaseURL = server.URL + "/v1"
		})
		require.NoError(t, err)

		_, err = s.Summarize(context.Background(), "query", []string{"ctx"})
		assert.Error(t, err)
	})
}
