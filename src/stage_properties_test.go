package dspflow

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestMovingAverageBlockBoundaryInvariance is a property test (spec.md §8
// property: "splitting a stream across multiple process() calls must
// reproduce the single-call result") over random sample streams, window
// sizes and split points.
func TestMovingAverageBlockBoundaryInvariance(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		windowSize := rapid.IntRange(1, 8).Draw(rt, "windowSize")
		n := rapid.IntRange(1, 40).Draw(rt, "n")
		split := rapid.IntRange(0, n).Draw(rt, "split")

		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(rapid.Float64Range(-10, 10).Draw(rt, "sample"))
		}

		whole, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": windowSize})
		require.NoError(t, err)
		wholeBuf := append(SampleBlock(nil), samples...)
		require.NoError(t, whole.Process(NewStandaloneContext(), wholeBuf, n, 1, nil))

		split1, err := NewStage("movingAverage", map[string]any{"mode": "moving", "windowSize": windowSize})
		require.NoError(t, err)
		part1 := append(SampleBlock(nil), samples[:split]...)
		part2 := append(SampleBlock(nil), samples[split:]...)
		require.NoError(t, split1.Process(NewStandaloneContext(), part1, len(part1), 1, nil))
		require.NoError(t, split1.Process(NewStandaloneContext(), part2, len(part2), 1, nil))

		for i := 0; i < split; i++ {
			require.InDeltaf(t, wholeBuf[i], part1[i], 1e-3, "index %d (first half)", i)
		}
		for i := split; i < n; i++ {
			require.InDeltaf(t, wholeBuf[i], part2[i-split], 1e-3, "index %d (second half)", i)
		}
	})
}

// TestRectifyNeverProducesNegativeOutput holds for both rectify modes over
// arbitrary input.
func TestRectifyNeverProducesNegativeOutput(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := rapid.SampledFrom([]string{"full", "half"}).Draw(rt, "mode")
		n := rapid.IntRange(0, 32).Draw(rt, "n")

		s, err := NewStage("rectify", map[string]any{"mode": mode})
		require.NoError(t, err)

		buf := make(SampleBlock, n)
		for i := range buf {
			buf[i] = float32(rapid.Float64Range(-100, 100).Draw(rt, "sample"))
		}
		require.NoError(t, s.Process(NewStandaloneContext(), buf, n, 1, nil))
		for _, v := range buf {
			require.GreaterOrEqualf(t, v, float32(0), "rectified sample must never be negative")
		}
	})
}

// TestDriftDetectorStatePersistsAcrossArbitrarySplits generalizes
// TestDriftDetectorStatePersistsAcrossCalls to random split points.
func TestDriftDetectorStatePersistsAcrossArbitrarySplits(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 30).Draw(rt, "n")
		split := rapid.IntRange(1, n-1).Draw(rt, "split")

		ts := make(Timestamps, n)
		var cur float32
		for i := range ts {
			cur += float32(rapid.Float64Range(0.1, 20).Draw(rt, "delta"))
			ts[i] = cur
		}

		whole := newDriftDetector(1000, 5)
		var wholeEvents []DriftEvent
		whole.scan(ts, func(ev DriftEvent) { wholeEvents = append(wholeEvents, ev) })

		parted := newDriftDetector(1000, 5)
		var partedEvents []DriftEvent
		parted.scan(ts[:split], func(ev DriftEvent) { partedEvents = append(partedEvents, ev) })
		parted.scan(ts[split:], func(ev DriftEvent) { partedEvents = append(partedEvents, ev) })

		require.Equal(t, len(wholeEvents), len(partedEvents))
		for i := range wholeEvents {
			require.Equal(t, wholeEvents[i].SampleIndex, partedEvents[i].SampleIndex)
		}
	})
}
