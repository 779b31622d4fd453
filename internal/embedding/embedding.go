// Package embedding provides the pluggable text embedding port used by the
// proxy. An Embedder turns UTF-8 text into a fixed-dimension float vector;
// the memory store takes care of normalization.
package embedding

import (
	"context"
	"fmt"

	"github.com/lewisedginton/recall-proxy/internal/config"
)

// Embedder generates embedding vectors from text.
// Implementations must be deterministic for identical input.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dims returns the embedding vector size.
	Dims() int
}

// New creates an Embedder from configuration.
// Supported providers: "ollama" (default), "openai".
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Dims:    cfg.Dimension,
			Timeout: cfg.Timeout,
		}), nil
	case "openai":
		return NewOpenAIEmbedder(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Dims:    cfg.Dimension,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
