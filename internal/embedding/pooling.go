package embedding

import (
	"go.uber.org/zap"

	"github.com/hyperjump/simdex/pkg/utils"
)

// ONNXOptions configures NewONNXEmbedder.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	Logger     *zap.Logger
}

// MeanPool averages the token vectors of hidden ([seqLen x dim], row-major) whose mask entry is 1,
// then normalizes the result to unit length. seqLen is len(mask).
func MeanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	var count float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			out[i] += v
		}
		count++
	}
	if count > 0 {
		for i := range out {
			out[i] /= count
		}
	}
	utils.NormalizeL2(out)
	return out
}
