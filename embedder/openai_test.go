package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)

		// Respond out of order; the client must restore input order.
		resp := embeddingsResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 1, 2}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewOpenAI(func(o *OpenAIOptions) {
		o.BaseURL = srv.URL + "/v1"
		o.APIKey = "test-key"
		o.Model = "test-model"
	})
	require.NoError(t, err)

	assert.Equal(t, 0, client.Dimension())

	vectors, err := client.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 1, 2}, vectors[0])
	assert.Equal(t, []float32{2, 1, 2}, vectors[2])

	assert.Equal(t, 3, client.Dimension())
	assert.Equal(t, "test-model", client.Model())
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewOpenAI(func(o *OpenAIOptions) { o.BaseURL = srv.URL })
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAI_CardinalityMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingsResponse{})
	}))
	defer srv.Close()

	client, err := NewOpenAI(func(o *OpenAIOptions) { o.BaseURL = srv.URL })
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOpenAI_EmptyInput(t *testing.T) {
	client, err := NewOpenAI()
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
