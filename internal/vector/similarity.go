package vector

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return float64(vek32.Dot(a, b))
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(float64(vek32.Dot(x, x)))
}

// Normalize scales x in place to unit length. A zero vector is left unchanged.
func Normalize(x []float32) {
	norm := L2Norm(x)
	if norm == 0 {
		return
	}
	vek32.MulNumber_Inplace(x, float32(1/norm))
}
