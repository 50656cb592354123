package dspflow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowSamplesRunningSums(t *testing.T) {
	w := newSlidingWindowSamples(4)
	values := []float64{1, 2, 3, 4, 5, 6}
	for i, v := range values {
		w.push(v, float64(i))
	}

	require.Equal(t, 4, w.count())
	assert.InDelta(t, 4.5, w.mean(), 1e-9, "mean of last 4 values (3,4,5,6)")
	assert.True(t, w.runningSumConsistent(), "running sum must match re-derived totals")
	assert.Equal(t, []float64{3, 4, 5, 6}, w.contents())
}

func TestSlidingWindowTimeEvictsExpired(t *testing.T) {
	w := newSlidingWindowTime(10)
	w.push(1, 0)
	w.push(2, 5)
	w.push(3, 20) // evicts both prior entries (cutoff = 20-10 = 10)

	require.Equal(t, 1, w.count())
	assert.Equal(t, []float64{3}, w.contents())
	assert.True(t, w.runningSumConsistent())
}

func TestSlidingWindowVarianceMatchesSampleVariance(t *testing.T) {
	w := newSlidingWindowSamples(5)
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for _, v := range values {
		w.push(v, 0)
	}
	// last 5 pushed: 4,5,5,7,9
	want := batchVariance([]float64{4, 5, 5, 7, 9})
	assert.InDelta(t, want, w.variance(), 1e-9)
}

func TestSlidingWindowResetClearsState(t *testing.T) {
	w := newSlidingWindowSamples(3)
	w.push(1, 0)
	w.push(2, 1)
	w.reset()
	assert.Equal(t, 0, w.count())
	assert.Equal(t, 0.0, w.mean())
	assert.Equal(t, 0.0, w.sum)
}

func TestBatchStatisticsAgreeWithSlidingWindowOnFullBlock(t *testing.T) {
	block := []float64{1, -2, 3.5, -4.25, 5}
	w := newSlidingWindowSamples(len(block))
	for _, v := range block {
		w.push(v, 0)
	}
	assert.InDelta(t, batchMean(block), w.mean(), 1e-9)
	assert.InDelta(t, batchRMS(block), w.rms(), 1e-9)
	assert.InDelta(t, batchVariance(block), w.variance(), 1e-9)

	var absSum float64
	for _, v := range block {
		absSum += math.Abs(v)
	}
	assert.InDelta(t, absSum/float64(len(block)), batchMAV(block), 1e-9)
}
