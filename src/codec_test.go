package dspflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSaveStateProducesValidYAMLWithSchemaVersion(t *testing.T) {
	s, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 4})
	require.NoError(t, err)
	buf := SampleBlock{1, 2, 3}
	require.NoError(t, s.Process(NewStandaloneContext(), buf, 3, 1, nil))

	raw, err := saveState([]Stage{s}, time.Now())
	require.NoError(t, err)

	var doc checkpointDocument
	require.NoError(t, yaml.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, checkpointSchemaVersion, doc.SchemaVersion)
	assert.Equal(t, 1, doc.StageCount)
	assert.Equal(t, "movingAverage", doc.Stages[0].Type)
}

func TestLoadStateRejectsSchemaVersionMismatch(t *testing.T) {
	s, err := NewStage("movingAverage", map[string]any{"mode": "batch"})
	require.NoError(t, err)

	doc := checkpointDocument{SchemaVersion: checkpointSchemaVersion + 1, StageCount: 1,
		Stages: []checkpointStage{{Type: "movingAverage", Config: s.ConfigSummary(), State: s.SerializeState()}}}
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)

	err = loadState([]Stage{s}, string(raw))
	require.Error(t, err)
	var target *StateFormatMismatchError
	require.ErrorAs(t, err, &target)
}

func TestLoadStateRejectsTypeMismatch(t *testing.T) {
	s, err := NewStage("rectify", map[string]any{"mode": "full"})
	require.NoError(t, err)

	other, err := NewStage("movingAverage", map[string]any{"mode": "batch"})
	require.NoError(t, err)

	raw, err := saveState([]Stage{other}, time.Now())
	require.NoError(t, err)

	err = loadState([]Stage{s}, raw)
	require.Error(t, err)
}

func TestLoadStateRejectsConfigMismatch(t *testing.T) {
	original, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 4})
	require.NoError(t, err)
	raw, err := saveState([]Stage{original}, time.Now())
	require.NoError(t, err)

	differentWindow, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 8})
	require.NoError(t, err)

	err = loadState([]Stage{differentWindow}, raw)
	require.Error(t, err)
	var target *StateFormatMismatchError
	require.ErrorAs(t, err, &target)
}

func TestLoadStateAppliesNoPartialStateOnFailure(t *testing.T) {
	a, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)
	buf := SampleBlock{1, 2, 3}
	require.NoError(t, a.Process(NewStandaloneContext(), buf, 3, 1, nil))
	raw, err := saveState([]Stage{a}, time.Now())
	require.NoError(t, err)

	b, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)
	before := b.SerializeState()

	badRaw := raw + "\nextraGarbageField: [1,2\n" // malform the YAML
	err = loadState([]Stage{b}, badRaw)
	require.Error(t, err)
	assert.Equal(t, before, b.SerializeState(), "a rejected checkpoint must not mutate stage state")
}

// TestLoadStateRollsBackEarlierStagesOnLaterInvariantFailure drives a
// step-3 (per-stage invariant) failure through a multi-stage pipeline:
// the first stage's saved record is perfectly valid and would apply
// cleanly on its own, but the second stage's record is corrupted in a
// way only that stage's own DeserializeState can detect. The whole
// loadState call must still leave stage 1 exactly as it was, since
// spec.md §4.14 requires the apply step to be all-or-nothing across the
// entire stage sequence, not just within one stage.
func TestLoadStateRollsBackEarlierStagesOnLaterInvariantFailure(t *testing.T) {
	a, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)
	require.NoError(t, a.Process(NewStandaloneContext(), SampleBlock{1, 2, 3}, 3, 1, nil))
	beforeA := a.SerializeState()

	b, err := NewStage("lmsFilter", map[string]any{"numTaps": 2, "learningRate": 0.1})
	require.NoError(t, err)
	require.NoError(t, b.Process(NewStandaloneContext(), SampleBlock{1, 2, 3, 4}, 2, 2, nil))
	beforeB := b.SerializeState()

	raw, err := saveState([]Stage{a, b}, time.Now())
	require.NoError(t, err)

	var doc checkpointDocument
	require.NoError(t, yaml.Unmarshal([]byte(raw), &doc))
	weights := doc.Stages[1].State["weights"].([]any)
	doc.Stages[1].State["weights"] = weights[:len(weights)-1] // wrong length for numTaps=2
	badRaw, err := yaml.Marshal(doc)
	require.NoError(t, err)

	newA, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 3})
	require.NoError(t, err)
	require.NoError(t, newA.Process(NewStandaloneContext(), SampleBlock{1, 2, 3}, 3, 1, nil))

	newB, err := NewStage("lmsFilter", map[string]any{"numTaps": 2, "learningRate": 0.1})
	require.NoError(t, err)
	require.NoError(t, newB.Process(NewStandaloneContext(), SampleBlock{1, 2, 3, 4}, 2, 2, nil))

	err = loadState([]Stage{newA, newB}, string(badRaw))
	require.Error(t, err)
	var target *StateFormatMismatchError
	require.ErrorAs(t, err, &target)

	// newA's own record was valid and would have applied on its own, but
	// must be rolled back because newB's failed.
	assert.Equal(t, beforeA, newA.SerializeState(), "earlier stage must roll back when a later stage's checkpoint is rejected")
	assert.Equal(t, beforeB, newB.SerializeState(), "a rejected stage must keep its pre-load state")
}
