package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

// MatchPercent converts a squared L2 distance between unit vectors into a score in [0, 100].
func MatchPercent(distance float64) float64 {
	return 100 * math.Max(0, math.Min(1, 1-distance))
}
