package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/simdex/internal/config"
)

// New builds the configured provider wrapped in a CachedEmbedder. When the ONNX model cannot be
// loaded it falls back to MockEmbedder with a warning, so a fresh install can still start.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var base Embedder
	switch cfg.Provider {
	case config.ProviderOpenAI:
		e, err := NewOpenAIEmbedder(OpenAIOptions{
			APIKey:            cfg.OpenAIAPIKey,
			Model:             cfg.OpenAIModel,
			BaseURL:           cfg.OpenAIBaseURL,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		base = e
	case config.ProviderMock:
		base = NewMockEmbedder(cfg.Dimensions)
	case config.ProviderONNX, "":
		e, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embedder",
				zap.String("model_path", cfg.ModelPath),
				zap.Error(err))
			base = NewMockEmbedder(cfg.Dimensions)
		} else {
			base = e
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return NewCachedEmbedder(base, cfg.CacheSize), nil
}

// ProviderName reports which provider actually serves e, looking through the cache.
func ProviderName(e Embedder) string {
	if c, ok := e.(*CachedEmbedder); ok {
		e = c.Embedder
	}
	switch e.(type) {
	case *MockEmbedder:
		return config.ProviderMock
	case *OpenAIEmbedder:
		return config.ProviderOpenAI
	case *ONNXEmbedder:
		return config.ProviderONNX
	}
	return "unknown"
}
