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

// Cosine returns the cosine similarity of a and b clamped to [-1, 1].
// Mismatched lengths, empty vectors and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	return ClampUnit(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// ClampUnit clamps s to [-1, 1]; rounding can push cosine scores slightly outside.
func ClampUnit(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}
