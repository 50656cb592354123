package dspflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewBuilder("test", ObservabilityConfig{}).
		AddStage("rectify", map[string]any{"mode": "full"}).
		AddStage("movingAverage", map[string]any{"mode": "moving", "windowSize": 2}).
		Build()
	require.NoError(t, err)
	return p
}

func TestPipelineProcessRunsEveryStageInOrder(t *testing.T) {
	p := newTestPipeline(t)

	out, ts, err := p.Process(SampleBlock{-2, 4, -6}, nil, ProcessOptions{Channels: 1, SampleRateHz: 100})
	require.NoError(t, err)
	require.Len(t, ts, 3)

	// rectify -> 2,4,6 then windowSize=2 moving average -> 2, 3, 5
	assert.InDelta(t, 2.0, out[0], 1e-6)
	assert.InDelta(t, 3.0, out[1], 1e-6)
	assert.InDelta(t, 5.0, out[2], 1e-6)
}

func TestPipelineRejectsChannelMismatch(t *testing.T) {
	s, err := NewStage("lmsFilter", map[string]any{"numTaps": 4, "learningRate": 0.1})
	require.NoError(t, err)

	p := NewPipeline("test", ObservabilityConfig{})
	p.stages = append(p.stages, s)
	p.expectedChannels = s.ExpectedChannels()

	_, _, err = p.Process(SampleBlock{1, 2, 3}, nil, ProcessOptions{Channels: 1, SampleRateHz: 100})
	require.Error(t, err)
	var target *ChannelMismatchError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 2, target.Expected)
}

func TestPipelineSynthesizesTimestampsWhenNil(t *testing.T) {
	p := newTestPipeline(t)
	_, ts, err := p.Process(SampleBlock{1, 2, 3, 4}, nil, ProcessOptions{Channels: 1, SampleRateHz: 1000})
	require.NoError(t, err)
	require.Len(t, ts, 4)
	assert.Equal(t, float32(0), ts[0])
	assert.InDelta(t, 1.0, ts[1], 1e-6)
}

func TestPipelineDriftDetectorFiresOnDrift(t *testing.T) {
	p := newTestPipeline(t)
	p.EnableDrift(1000, 5) // 1000Hz -> expect 1ms between samples, 5% threshold

	var events []DriftEvent
	ts := Timestamps{0, 1, 1, 50} // third->fourth interval is wildly off
	_, _, err := p.Process(SampleBlock{1, 1, 1, 1}, ts, ProcessOptions{
		Channels:    1,
		DriftDetect: true,
		OnDrift:     func(ev DriftEvent) { events = append(events, ev) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, events, "a 49ms jump against a 1ms expected period must be reported")
}

func TestPipelineSaveAndLoadStateRoundTrip(t *testing.T) {
	p := newTestPipeline(t)
	_, _, err := p.Process(SampleBlock{1, 2, 3}, nil, ProcessOptions{Channels: 1, SampleRateHz: 100})
	require.NoError(t, err)

	doc, err := p.SaveState()
	require.NoError(t, err)

	fresh := newTestPipeline(t)
	require.NoError(t, fresh.LoadState(doc))

	freshDoc, err := fresh.SaveState()
	require.NoError(t, err)
	assert.Contains(t, freshDoc, "schemaVersion")
}

func TestPipelineLoadStateRejectsStageCountMismatch(t *testing.T) {
	p := newTestPipeline(t)
	doc, err := p.SaveState()
	require.NoError(t, err)

	other, err := NewBuilder("other", ObservabilityConfig{}).
		AddStage("rectify", map[string]any{"mode": "full"}).
		Build()
	require.NoError(t, err)

	err = other.LoadState(doc)
	require.Error(t, err)
	var target *StateFormatMismatchError
	require.ErrorAs(t, err, &target)
}

func TestPipelineClearStateResetsStages(t *testing.T) {
	p := newTestPipeline(t)
	_, _, err := p.Process(SampleBlock{1, 2, 3}, nil, ProcessOptions{Channels: 1, SampleRateHz: 100})
	require.NoError(t, err)

	p.ClearState()

	out, _, err := p.Process(SampleBlock{4}, nil, ProcessOptions{Channels: 1, SampleRateHz: 100})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, out[0], 1e-6, "after reset the moving-average window should contain only the new sample")
}

func TestPipelineListStateDescribesEachStage(t *testing.T) {
	p := newTestPipeline(t)
	summary := p.ListState()
	require.Len(t, summary, 2)
	assert.Equal(t, "rectify", summary[0].Type)
	assert.Equal(t, "movingAverage", summary[1].Type)
}
