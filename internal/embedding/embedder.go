// Package embedding turns text into fixed-dimension vectors. Providers are ONNX Runtime
// (local model), the OpenAI embeddings API, and a deterministic mock for tests.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text. Every vector has exactly Dimensions() components.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

var (
	// ErrEmbeddingFailure wraps every provider failure.
	ErrEmbeddingFailure = errors.New("embedding failed")
	// ErrEmptyInput is returned for empty text.
	ErrEmptyInput = errors.New("empty input")
)

func failure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEmbeddingFailure, fmt.Sprintf(format, args...))
}

// checkDimensions reports a provider that returned a vector of the wrong size.
func checkDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return failure("provider returned %d dimensions, want %d", len(vec), want)
	}
	return nil
}

// embedEach calls embed for each text in order.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
