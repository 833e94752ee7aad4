package model

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// Normalize returns a L2-normalized copy of v. A zero vector is returned as a zero vector.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

// CheckDimension returns ErrDimensionMismatch when v does not have exactly dim elements
func CheckDimension(v []float32, dim int) error {
	if len(v) != dim {
		return goerr.Wrap(ErrDimensionMismatch, "vector length differs from index dimension",
			goerr.V("expected", dim), goerr.V("actual", len(v)))
	}
	return nil
}
