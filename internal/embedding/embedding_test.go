package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderIsDeterministic(t *testing.T) {
	e := NewMockEmbedder(384)
	ctx := context.Background()

	a, err := e.Embed(ctx, "my name is Ana")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "my name is Ana")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
}

func TestMockEmbedderUnitNorm(t *testing.T) {
	e := NewMockEmbedder(64)

	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockEmbedderDifferentTextsDiffer(t *testing.T) {
	e := NewMockEmbedder(384)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "alpha")
	b, _ := e.Embed(ctx, "bravo")

	assert.NotEqual(t, a, b)
}

func TestMockEmbedderBatchMatchesSingle(t *testing.T) {
	e := NewMockEmbedder(32)
	ctx := context.Background()

	batch, err := e.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	single, err := e.Embed(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, single, batch[0])
}

func TestOllamaEmbedder(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.Equal(t, "remember this", req.Prompt)

		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer backend.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: backend.URL, Model: "all-minilm", Dims: 3})

	vec, err := e.Embed(context.Background(), "remember this")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, e.Dims())
}

func TestOllamaEmbedderBackendError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer backend.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: backend.URL})

	_, err := e.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaEmbedderEmptyEmbedding(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{})
	}))
	defer backend.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: backend.URL})

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
}

func TestOpenAIEmbedderAgainstCompatibleServer(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [
				{"object": "embedding", "index": 0, "embedding": [1.0, 0.0]},
				{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]}
			],
			"model": "all-minilm",
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	}))
	defer backend.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: backend.URL, APIKey: "unused", Model: "all-minilm", Dims: 2})

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
}
