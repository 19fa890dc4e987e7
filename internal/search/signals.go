package search

import "math"

// degenerateRange is the smallest max-min spread treated as signal.
const degenerateRange = 1e-6

// CosineSimilarity returns the cosine of the angle between a and b. Empty,
// mismatched or zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// NormalizeMinMax maps values onto [0, 1]. Arrays whose range is below 1e-6
// map to all zeros.
func NormalizeMinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span < degenerateRange {
		return out
	}
	for i, v := range values {
		out[i] = clamp01((v - lo) / span)
	}
	return out
}

// Combine blends normalized signals with w, clamped to [0, 1].
func Combine(dense, sparse, keyword float64, w IntentWeights) float64 {
	return clamp01(w.Dense*dense + w.Sparse*sparse + w.Keyword*keyword)
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
