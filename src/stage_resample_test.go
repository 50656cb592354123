package dspflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecimatorOutputSizeTracksRunningPhase is the concrete counterexample
// a downFactor=3 decimator hits when a stream is split across two
// framesIn=4 calls instead of delivered as one framesIn=8 block: the
// second call starts at phase 1 (running counter 4, not 0), so it must
// produce exactly one sample, not whatever a phase-0 formula predicts.
func TestDecimatorOutputSizeTracksRunningPhase(t *testing.T) {
	whole, err := NewStage("decimator", map[string]any{"factor": 3})
	require.NoError(t, err)
	wholeOut, _, err := whole.ProcessResizing(NewStandaloneContext(), SampleBlock{1, 2, 3, 4, 5, 6, 7, 8}, 8, 1, nil)
	require.NoError(t, err)
	require.Len(t, wholeOut, 3)

	split, err := NewStage("decimator", map[string]any{"factor": 3})
	require.NoError(t, err)
	out1, _, err := split.ProcessResizing(NewStandaloneContext(), SampleBlock{1, 2, 3, 4}, 4, 1, nil)
	require.NoError(t, err)
	require.Len(t, out1, 2, "first 4-frame call at phase 0 must produce 2 samples")

	out2, _, err := split.ProcessResizing(NewStandaloneContext(), SampleBlock{5, 6, 7, 8}, 4, 1, nil)
	require.NoError(t, err)
	require.Len(t, out2, 1, "second 4-frame call at phase 1 (running counter 4) must produce exactly 1 sample, not a stale phase-0 count")

	got := append(append(SampleBlock{}, out1...), out2...)
	require.Len(t, got, len(wholeOut))
	for i := range wholeOut {
		assert.InDelta(t, wholeOut[i], got[i], 1e-3, "decimated sample %d must match regardless of how the stream was split", i)
	}
}

// TestDecimatorCalculateOutputSizeMatchesProcessResizing checks the
// public CalculateOutputSize contract (spec.md §8 property 2) holds
// across a call that isn't the stage's first, once the running phase has
// moved off zero.
func TestDecimatorCalculateOutputSizeMatchesProcessResizing(t *testing.T) {
	s, err := NewStage("decimator", map[string]any{"factor": 3})
	require.NoError(t, err)
	out1, _, err := s.ProcessResizing(NewStandaloneContext(), SampleBlock{1, 2, 3, 4}, 4, 1, nil)
	require.NoError(t, err)
	require.Len(t, out1, 2)

	predicted := s.CalculateOutputSize(4)
	out2, _, err := s.ProcessResizing(NewStandaloneContext(), SampleBlock{5, 6, 7, 8}, 4, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, predicted, len(out2), "CalculateOutputSize must predict the real phase-aware output count")
}

// TestRationalResamplerOutputSizeTracksRunningPhase is the same
// counterexample shape for the combined interpolate/decimate branch.
func TestRationalResamplerOutputSizeTracksRunningPhase(t *testing.T) {
	whole, err := NewStage("resampler", map[string]any{"upFactor": 2, "downFactor": 3})
	require.NoError(t, err)
	wholeOut, _, err := whole.ProcessResizing(NewStandaloneContext(), SampleBlock{1, 2, 3, 4, 5, 6}, 6, 1, nil)
	require.NoError(t, err)
	require.Len(t, wholeOut, 4)

	split, err := NewStage("resampler", map[string]any{"upFactor": 2, "downFactor": 3})
	require.NoError(t, err)
	out1, _, err := split.ProcessResizing(NewStandaloneContext(), SampleBlock{1, 2, 3}, 3, 1, nil)
	require.NoError(t, err)
	require.Len(t, out1, 2)

	out2, _, err := split.ProcessResizing(NewStandaloneContext(), SampleBlock{4, 5, 6}, 3, 1, nil)
	require.NoError(t, err)
	require.Len(t, out2, 2)

	got := append(append(SampleBlock{}, out1...), out2...)
	require.Len(t, got, len(wholeOut))
	for i := range wholeOut {
		assert.InDelta(t, wholeOut[i], got[i], 1e-3, "resampled sample %d must match regardless of how the stream was split", i)
	}
}
