package dspflow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCorrelatedData generates frames of a 2-channel signal where channel
// 1 is a noisy copy of channel 0, so the dominant principal component
// should align closely with the (1,1)/sqrt(2) direction.
func buildCorrelatedData(frames int) []float64 {
	flat := make([]float64, frames*2)
	for i := 0; i < frames; i++ {
		v := math.Sin(float64(i) * 0.2)
		flat[i*2+0] = v
		flat[i*2+1] = v + 0.01*math.Sin(float64(i)*1.7)
	}
	return flat
}

func TestCalculatePCAMeanMatchesSampleMean(t *testing.T) {
	flat := buildCorrelatedData(64)
	mean, matrix, err := CalculatePCA(flat, 2, 64, 1)
	require.NoError(t, err)
	require.Len(t, mean, 2)
	require.Len(t, matrix, 2) // numChannels*numComponents

	var sum0, sum1 float64
	for i := 0; i < 64; i++ {
		sum0 += flat[i*2+0]
		sum1 += flat[i*2+1]
	}
	assert.InDelta(t, sum0/64, mean[0], 1e-9)
	assert.InDelta(t, sum1/64, mean[1], 1e-9)
}

func TestCalculatePCARejectsTooManyComponents(t *testing.T) {
	flat := buildCorrelatedData(16)
	_, _, err := CalculatePCA(flat, 2, 16, 3)
	require.Error(t, err)
}

func TestCalculateWhiteningProducesUnitVariance(t *testing.T) {
	flat := buildCorrelatedData(200)
	mean, matrix, err := CalculateWhitening(flat, 2, 200, 2)
	require.NoError(t, err)
	require.Len(t, mean, 2)
	require.Len(t, matrix, 4)

	// Apply the whitening transform and check the resulting channels have
	// approximately unit variance (the defining property of whitening).
	var out0, out1 []float64
	for i := 0; i < 200; i++ {
		x0 := flat[i*2+0] - mean[0]
		x1 := flat[i*2+1] - mean[1]
		// matrix is W (numComponents x numChannels) stored column-major
		y0 := matrix[0*2+0]*x0 + matrix[1*2+0]*x1
		y1 := matrix[0*2+1]*x0 + matrix[1*2+1]*x1
		out0 = append(out0, y0)
		out1 = append(out1, y1)
	}
	assert.InDelta(t, 1.0, batchVariance(out0), 0.3)
	assert.InDelta(t, 1.0, batchVariance(out1), 0.3)
}

func TestCalculateBeamformerWeightsDistortionless(t *testing.T) {
	steering := []float64{1, 1}
	cov := []float64{1, 0, 0, 1} // identity covariance, 2 channels row-major
	w, err := CalculateBeamformerWeights(steering, cov, 2)
	require.NoError(t, err)
	require.Len(t, w, 2)

	// MVDR distortionless constraint: w . steering == 1
	dot := w[0]*steering[0] + w[1]*steering[1]
	assert.InDelta(t, 1.0, dot, 1e-6)
}
