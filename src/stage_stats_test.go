package dspflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovingAverageBatchMode(t *testing.T) {
	s, err := NewStage("movingAverage", map[string]any{"mode": "batch"})
	require.NoError(t, err)

	buf := SampleBlock{1, 3, 5, 7}
	require.NoError(t, s.Process(NewStandaloneContext(), buf, 4, 1, nil))
	for _, v := range buf {
		assert.InDelta(t, 4.0, v, 1e-6, "batch mode broadcasts the whole-block mean")
	}
}

func TestMovingAverageSlidingWindow(t *testing.T) {
	s, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 2})
	require.NoError(t, err)

	buf := SampleBlock{2, 4, 6, 8}
	require.NoError(t, s.Process(NewStandaloneContext(), buf, 4, 1, nil))
	// window of 2: [2]->2, [2,4]->3, [4,6]->5, [6,8]->7
	assert.InDelta(t, 2.0, buf[0], 1e-6)
	assert.InDelta(t, 3.0, buf[1], 1e-6)
	assert.InDelta(t, 5.0, buf[2], 1e-6)
	assert.InDelta(t, 7.0, buf[3], 1e-6)
}

func TestMovingAverageContinuesAcrossBlockBoundary(t *testing.T) {
	one, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)
	two, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)

	whole := SampleBlock{1, 2, 3, 4, 5, 6}
	require.NoError(t, one.Process(NewStandaloneContext(), whole, 6, 1, nil))

	part1 := SampleBlock{1, 2, 3}
	part2 := SampleBlock{4, 5, 6}
	require.NoError(t, two.Process(NewStandaloneContext(), part1, 3, 1, nil))
	require.NoError(t, two.Process(NewStandaloneContext(), part2, 3, 1, nil))

	assert.InDeltaSlice(t, []float64{float64(whole[3]), float64(whole[4]), float64(whole[5])},
		[]float64{float64(part2[0]), float64(part2[1]), float64(part2[2])}, 1e-6,
		"splitting a stream across calls must reproduce the single-call result")
}

func TestZScoreBatchMode(t *testing.T) {
	s, err := NewStage("zscore", map[string]any{"mode": "batch"})
	require.NoError(t, err)

	buf := SampleBlock{1, 2, 3, 4, 5}
	require.NoError(t, s.Process(NewStandaloneContext(), buf, 5, 1, nil))
	var sum float64
	for _, v := range buf {
		sum += float64(v)
	}
	assert.InDelta(t, 0, sum, 1e-4, "z-scored block should be approximately zero-mean")
}

func TestStatsStageRejectsBadMode(t *testing.T) {
	_, err := NewStage("rms", map[string]any{"mode": "sometimes"})
	require.Error(t, err)
}

func TestStatsStageCheckpointRoundTrip(t *testing.T) {
	s, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)

	buf := SampleBlock{1, 2, 3}
	require.NoError(t, s.Process(NewStandaloneContext(), buf, 3, 1, nil))

	saved := s.SerializeState()

	fresh, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)
	require.NoError(t, fresh.DeserializeState(saved))

	next := SampleBlock{4}
	require.NoError(t, fresh.Process(NewStandaloneContext(), next, 1, 1, nil))
	assert.InDelta(t, 3.0, next[0], 1e-6, "restored window [1,2,3] should hold [2,3,4] after this push")
}
