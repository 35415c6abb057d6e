package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 11.0, Dot([]float32{1, 2, 3}, []float32{3, 1, 2}), 1e-6)
	assert.InDelta(t, 0.0, Dot(nil, nil), 1e-6)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 1.0, float64(Magnitude(v)), 1e-6)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	// Zero vector stays zero.
	z := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, z)
}

func TestCosineSimilarity(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(s), 1e-6)

	s, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, float64(s), 1e-6)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDotEqualsCosineForUnitVectors(t *testing.T) {
	a := Normalize([]float32{0.3, -1.2, 4.5})
	b := Normalize([]float32{1.7, 0.2, -0.9})

	cos, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, float64(cos), float64(Dot(a, b)), 1e-5)
}
