package dspflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCAStageIdentityProjectionPassesThrough(t *testing.T) {
	s, err := NewStage("pca", map[string]any{
		"numChannels":   2,
		"numComponents": 2,
		"mean":          []any{0.0, 0.0},
		"matrix":        []any{1.0, 0.0, 0.0, 1.0}, // column-major identity
	})
	require.NoError(t, err)

	out, _, err := s.ProcessResizing(NewStandaloneContext(), SampleBlock{3, 5, -1, 2}, 2, 2, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 5, -1, 2}, toFloat64Slice(out), 1e-6)
}

func TestPCAStageSubtractsMeanBeforeProjecting(t *testing.T) {
	s, err := NewStage("pca", map[string]any{
		"numChannels":   2,
		"numComponents": 2,
		"mean":          []any{1.0, 1.0},
		"matrix":        []any{1.0, 0.0, 0.0, 1.0},
	})
	require.NoError(t, err)

	out, _, err := s.ProcessResizing(NewStandaloneContext(), SampleBlock{2, 3}, 1, 2, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, toFloat64Slice(out), 1e-6)
}

func TestPCAStageRejectsExcessComponents(t *testing.T) {
	_, err := NewStage("pca", map[string]any{
		"numChannels":   2,
		"numComponents": 3,
		"mean":          []any{0.0, 0.0},
		"matrix":        []any{1.0, 0.0, 0.0, 1.0, 0.0, 0.0},
	})
	require.Error(t, err)
}

func TestPCAStageRejectsChannelMismatch(t *testing.T) {
	s, err := NewStage("pca", map[string]any{
		"numChannels":   2,
		"numComponents": 1,
		"mean":          []any{0.0, 0.0},
		"matrix":        []any{1.0, 0.0},
	})
	require.NoError(t, err)
	_, _, err = s.ProcessResizing(NewStandaloneContext(), SampleBlock{1, 2, 3}, 1, 3, nil)
	require.Error(t, err)
}

func toFloat64Slice(b SampleBlock) []float64 {
	out := make([]float64, len(b))
	for i, v := range b {
		out[i] = float64(v)
	}
	return out
}
