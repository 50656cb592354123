package dspflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConvolution(t *testing.T, method string, input []float32) SampleBlock {
	t.Helper()
	s, err := NewStage("convolution", map[string]any{
		"kernel": []any{0.25, 0.5, 0.25},
		"method": method,
	})
	require.NoError(t, err)
	buf := append(SampleBlock(nil), input...)
	require.NoError(t, s.Process(NewStandaloneContext(), buf, len(buf), 1, nil))
	return buf
}

func TestConvolutionDirectAndFFTAgree(t *testing.T) {
	input := []float32{1, 2, 3, 4, 5, 4, 3, 2, 1, 0, -1, -2}
	direct := runConvolution(t, "direct", input)
	fft := runConvolution(t, "fft", input)
	for i := range direct {
		assert.InDelta(t, direct[i], fft[i], 1e-4, "direct and FFT convolution must agree at index %d", i)
	}
}

func TestConvolutionMovingModeIsBlockBoundaryInvariant(t *testing.T) {
	whole, err := NewStage("convolution", map[string]any{"kernel": []any{0.2, 0.3, 0.5}, "mode": "moving"})
	require.NoError(t, err)
	wholeBuf := SampleBlock{1, 2, 3, 4, 5, 6}
	require.NoError(t, whole.Process(NewStandaloneContext(), wholeBuf, 6, 1, nil))

	split, err := NewStage("convolution", map[string]any{"kernel": []any{0.2, 0.3, 0.5}, "mode": "moving"})
	require.NoError(t, err)
	part1 := SampleBlock{1, 2, 3}
	part2 := SampleBlock{4, 5, 6}
	require.NoError(t, split.Process(NewStandaloneContext(), part1, 3, 1, nil))
	require.NoError(t, split.Process(NewStandaloneContext(), part2, 3, 1, nil))

	got := append(append(SampleBlock{}, part1...), part2...)
	for i := range wholeBuf {
		assert.InDelta(t, wholeBuf[i], got[i], 1e-5, "concatenated sub-block output must match one big block at index %d", i)
	}
}

func TestConvolutionRejectsEmptyKernel(t *testing.T) {
	_, err := NewStage("convolution", map[string]any{"kernel": []any{}})
	require.Error(t, err)
}
