package dspflow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLMSFilterConvergesOnStaticGain(t *testing.T) {
	s, err := NewStage("lmsFilter", map[string]any{"numTaps": 1, "learningRate": 0.5})
	require.NoError(t, err)
	ctx := NewStandaloneContext()

	var lastErr float32
	for i := 0; i < 200; i++ {
		buf := SampleBlock{1, 2} // x=1, desired=2: filter should learn weight ~2
		require.NoError(t, s.Process(ctx, buf, 1, 2, nil))
		lastErr = buf[0]
	}
	assert.Less(t, math.Abs(float64(lastErr)), 0.01, "LMS error should shrink toward zero on a stationary target")
}

func TestLMSFilterRejectsWrongChannelCount(t *testing.T) {
	s, err := NewStage("lmsFilter", map[string]any{"numTaps": 2, "learningRate": 0.1})
	require.NoError(t, err)
	err = s.Process(NewStandaloneContext(), SampleBlock{1, 2, 3}, 3, 1, nil)
	require.Error(t, err)
	var target *ChannelMismatchError
	require.ErrorAs(t, err, &target)
}

func TestLMSFilterStateRoundTrip(t *testing.T) {
	s, err := NewStage("lmsFilter", map[string]any{"numTaps": 2, "learningRate": 0.2})
	require.NoError(t, err)
	require.NoError(t, s.Process(NewStandaloneContext(), SampleBlock{1, 2, 0.5, 1}, 2, 2, nil))

	saved := s.SerializeState()
	fresh, err := NewStage("lmsFilter", map[string]any{"numTaps": 2, "learningRate": 0.2})
	require.NoError(t, err)
	require.NoError(t, fresh.DeserializeState(saved))
	assert.Equal(t, saved, fresh.SerializeState())
}

func TestRLSFilterConvergesFasterThanLMS(t *testing.T) {
	rls, err := NewStage("rlsFilter", map[string]any{"numTaps": 1, "lambda": 0.99, "delta": 0.1})
	require.NoError(t, err)
	ctx := NewStandaloneContext()

	var lastErr float32
	for i := 0; i < 20; i++ {
		buf := SampleBlock{1, 3}
		require.NoError(t, rls.Process(ctx, buf, 1, 2, nil))
		lastErr = buf[0]
	}
	assert.Less(t, math.Abs(float64(lastErr)), 0.05, "RLS should converge on a stationary target within a handful of samples")
}

func TestRLSFilterRejectsWrongChannelCount(t *testing.T) {
	s, err := NewStage("rlsFilter", map[string]any{"numTaps": 2})
	require.NoError(t, err)
	err = s.Process(NewStandaloneContext(), SampleBlock{1, 2, 3}, 3, 1, nil)
	require.Error(t, err)
}
