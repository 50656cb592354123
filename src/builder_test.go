package dspflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAssemblesPipeline(t *testing.T) {
	p, err := NewBuilder("test", ObservabilityConfig{}).
		AddStage("rectify", map[string]any{"mode": "full"}).
		AddStage("movingAverage", map[string]any{"mode": "batch"}).
		Build()

	require.NoError(t, err)
	assert.Equal(t, 2, p.StageCount())
}

func TestBuilderFirstErrorWins(t *testing.T) {
	_, err := NewBuilder("test", ObservabilityConfig{}).
		AddStage("rectify", map[string]any{"mode": "bogus"}).
		AddStage("unknownStageType", nil).
		Build()

	require.Error(t, err)
	var target *InvalidParameterError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "mode", target.Field, "the first failure (rectify's bad mode) must be the one reported")
}

func TestBuilderWithDriftRejectsNonPositiveRate(t *testing.T) {
	_, err := NewBuilder("test", ObservabilityConfig{}).
		AddStage("rectify", map[string]any{"mode": "full"}).
		WithDrift(0, 5).
		Build()
	require.Error(t, err)
}
