package embedding

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/simdex/internal/config"
)

func TestNew_mock(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 12, CacheSize: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Dimensions() != 12 {
		t.Errorf("Dimensions() = %d", e.Dimensions())
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected a cached embedder, got %T", e)
	}
	if got := ProviderName(e); got != config.ProviderMock {
		t.Errorf("ProviderName = %q", got)
	}
}

func TestNew_onnxFallsBackToMock(t *testing.T) {
	e, err := New(config.EmbeddingConfig{
		Provider:   config.ProviderONNX,
		ModelPath:  filepath.Join(t.TempDir(), "missing.onnx"),
		Dimensions: 8,
		MaxTokens:  16,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 8 {
		t.Errorf("len = %d, want 8", len(v))
	}
	if got := ProviderName(e); got != config.ProviderMock {
		t.Errorf("ProviderName after fallback = %q, want mock", got)
	}
}

func TestNew_openAIRequiresKey(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: config.ProviderOpenAI, Dimensions: 8}, nil)
	if err == nil {
		t.Error("expected error without api key")
	}
}

func TestNew_unknownProvider(t *testing.T) {
	if _, err := New(config.EmbeddingConfig{Provider: "bogus", Dimensions: 8}, nil); err == nil {
		t.Error("expected error")
	}
}
