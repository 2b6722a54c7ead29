package embedding

import (
	"context"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// openAIMaxBatch is the API limit on inputs per request.
const openAIMaxBatch = 2048

// OpenAIOptions configures NewOpenAIEmbedder.
type OpenAIOptions struct {
	APIKey            string
	Model             string
	BaseURL           string
	Dimensions        int
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// OpenAIEmbedder calls the OpenAI embeddings API (or any compatible endpoint).
// Requests are throttled client-side.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewOpenAIEmbedder creates a remote embedder. The API is asked for exactly opts.Dimensions.
func NewOpenAIEmbedder(opts OpenAIOptions) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, failure("openai api key is not set")
	}
	if opts.Dimensions <= 0 {
		return nil, failure("dimensions must be positive")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEmbedder{
		client:     &client,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}, nil
}

// Embed returns the embedding for a single text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts, splitting into API-sized requests.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	result := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		end := min(i+openAIMaxBatch, len(texts))
		vecs, err := o.call(ctx, texts[i:end])
		if err != nil {
			return nil, failure("openai batch [%d:%d]: %v", i, end, err)
		}
		copy(result[i:], vecs)
	}
	return result, nil
}

func (o *OpenAIEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(o.dimensions)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		o.logger.Warn("openai embeddings request failed", zap.Int("inputs", len(texts)), zap.Error(err))
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= int64(len(texts)) {
			return nil, failure("unexpected embedding index %d for batch size %d", item.Index, len(texts))
		}
		v := make([]float32, len(item.Embedding))
		for j, f := range item.Embedding {
			v[j] = float32(f)
		}
		if err := checkDimensions(v, o.dimensions); err != nil {
			return nil, err
		}
		vecs[item.Index] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, failure("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

// Dimensions returns the requested embedding dimension.
func (o *OpenAIEmbedder) Dimensions() int {
	return o.dimensions
}

// Close is a no-op; the HTTP client is shared.
func (o *OpenAIEmbedder) Close() error {
	return nil
}
