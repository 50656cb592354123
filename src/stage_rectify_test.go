package dspflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRectifyFullWave(t *testing.T) {
	s, err := NewStage("rectify", map[string]any{"mode": "full"})
	require.NoError(t, err)

	buf := SampleBlock{-1, 2, -3.5, 0}
	err = s.Process(NewStandaloneContext(), buf, 4, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, SampleBlock{1, 2, 3.5, 0}, buf)
}

func TestRectifyHalfWave(t *testing.T) {
	s, err := NewStage("rectify", map[string]any{"mode": "half"})
	require.NoError(t, err)

	buf := SampleBlock{-1, 2, -3.5, 0}
	err = s.Process(NewStandaloneContext(), buf, 4, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, SampleBlock{0, 2, 0, 0}, buf)
}

func TestRectifyRejectsUnknownMode(t *testing.T) {
	_, err := NewStage("rectify", map[string]any{"mode": "bogus"})
	require.Error(t, err)
	var target *InvalidParameterError
	require.ErrorAs(t, err, &target)
}
