//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXEmbedder runs a sentence-transformer model with ONNX Runtime and mean-pools the last
// hidden state into a normalized embedding. It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	logger     *zap.Logger
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	hiddenTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXEmbedder creates an ONNX embedder. The model must take input_ids, attention_mask and
// token_type_ids of shape [1, maxTokens] and emit last_hidden_state of shape
// [1, maxTokens, dimensions].
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if opts.Dimensions <= 0 || opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("onnx: dimensions and max tokens must be positive")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tokenizer := &SimpleTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tokenizer.Tokenize("", opts.MaxTokens)
	shape := ort.NewShape(1, int64(opts.MaxTokens))

	e := &ONNXEmbedder{
		dimensions: opts.Dimensions,
		maxTokens:  opts.MaxTokens,
		tokenizer:  tokenizer,
		logger:     opts.Logger,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	var err error
	if e.inputIDsTensor, err = ort.NewTensor(shape, inputIDs); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.attentionMaskTensor, err = ort.NewTensor(shape, attentionMask); err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDsTensor, err = ort.NewTensor(shape, tokenTypeIDs); err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	hiddenShape := ort.NewShape(1, int64(opts.MaxTokens), int64(opts.Dimensions))
	if e.hiddenTensor, err = ort.NewEmptyTensor[float32](hiddenShape); err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{e.hiddenTensor},
		nil,
	)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	e.logger.Info("onnx embedder ready",
		zap.String("model", opts.ModelPath),
		zap.Int("dimensions", opts.Dimensions),
		zap.Int("max_tokens", opts.MaxTokens))
	return e, nil
}

// Embed returns the mean-pooled, L2-normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, failure("%v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, failure("onnx session closed")
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, failure("inference: %v", err)
	}
	return MeanPool(e.hiddenTensor.GetData(), attentionMask, e.dimensions), nil
}

// EmbedBatch calls Embed for each text; the session holds a single pre-shaped input.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	e.destroy()
	return err
}

func (e *ONNXEmbedder) destroy() {
	for _, t := range []*ort.Tensor[int64]{e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor = nil, nil, nil
	if e.hiddenTensor != nil {
		_ = e.hiddenTensor.Destroy()
		e.hiddenTensor = nil
	}
}
