package vectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)

	// Degenerate inputs give no signal rather than NaN.
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestSquaredDistance(t *testing.T) {
	assert.InDelta(t, 0.0, SquaredDistance([]float32{1, 2}, []float32{1, 2}), 1e-9)
	assert.InDelta(t, 25.0, SquaredDistance([]float32{0, 0}, []float32{3, 4}), 1e-9)
}

func TestMean(t *testing.T) {
	assert.Nil(t, Mean(nil))

	m := Mean([][]float32{{1, 2}, {3, 4}})
	require.Len(t, m, 2)
	assert.InDelta(t, 2.0, float64(m[0]), 1e-6)
	assert.InDelta(t, 3.0, float64(m[1]), 1e-6)
}
