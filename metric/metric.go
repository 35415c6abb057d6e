// Package metric provides the similarity kernels used by the vector index.
//
// The index stores L2-normalized vectors and scores candidates by inner
// product, which for unit vectors equals cosine similarity. Build and query
// paths must use the same normalization; the persisted index header records
// the metric so a mismatch is detected on load.
package metric

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when two vectors have different lengths.
var ErrDimensionMismatch = errors.New("metric: vector sizes do not match")

// Dot calculates the inner product of two float32 slices.
// Both slices must have the same length; the caller validates dimensions.
func Dot(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return sum
}

// Magnitude calculates the L2 norm of a float32 slice.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged (copied) to avoid division by zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	mag := Magnitude(v)
	if mag == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / mag
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// CosineSimilarity calculates the cosine similarity between two float32 slices.
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}

	magA := Magnitude(v1)
	magB := Magnitude(v2)
	if magA == 0 || magB == 0 {
		return 0, nil
	}

	return Dot(v1, v2) / (magA * magB), nil
}
