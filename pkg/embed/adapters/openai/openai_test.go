package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
}

func TestNew_Defaults(t *testing.T) {
	embedder, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", embedder.model)
	assert.Equal(t, 1536, embedder.Dimensions())
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		gotModel = request.Model

		data := make([]map[string]any, len(request.Input))
		for i := range request.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{0.1, 0.2, float32(i)},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  request.Model,
			"data":   data,
		})
	}))
	defer server.Close()

	embedder, err := New(Config{
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		BaseURL:    server.URL,
		Dimensions: 3,
	})
	require.NoError(t, err)

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0}, vectors[0])
	assert.Equal(t, []float32{0.1, 0.2, 1}, vectors[1])
	assert.Equal(t, "text-embedding-3-small", gotModel)
}

func TestEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{1, 2, 3}},
			},
		})
	}))
	defer server.Close()

	embedder, err := New(Config{APIKey: "test-key", BaseURL: server.URL, Dimensions: 3})
	require.NoError(t, err)

	vector, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vector)
}

func TestEmbedder_EmbedBatch_Empty(t *testing.T) {
	embedder, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)

	vectors, err := embedder.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "hello")
	assert.Error(t, err)
}
