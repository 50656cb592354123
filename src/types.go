package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Core data types shared by every component: the sample
 *		block and timestamp vector that flow through a
 *		pipeline, process options, and drift events.
 *
 *----------------------------------------------------------------*/

// SampleBlock is a contiguous run of interleaved multi-channel samples:
// for C channels and N frames, length is N*C and layout is
// [s0ch0, s0ch1, ..., s0chC-1, s1ch0, ...] per spec.md §3.
type SampleBlock []float32

// Timestamps holds one millisecond timestamp per frame (not per interleaved
// element), monotonically non-decreasing within a call.
type Timestamps []float32

// ProcessOptions configures one Pipeline.Process call.
type ProcessOptions struct {
	Channels          int
	SampleRateHz      float64
	DriftDetect       bool
	DriftThresholdPct float64
	OnDrift           func(DriftEvent)
}

// DriftEvent is emitted by the drift detector (spec.md §4.15) when an
// inter-sample timestamp delta diverges from the expected period by more
// than the configured relative threshold.
type DriftEvent struct {
	PreviousTimestampMs float32
	CurrentTimestampMs  float32
	AbsoluteDriftMs      float32
	RelativeDriftPct     float64
	SampleIndex          int
}

// frameCount returns how many frames a block holds for the given channel
// count. Callers are expected to have already validated channels > 0.
func frameCount(block SampleBlock, channels int) int {
	if channels <= 0 {
		return 0
	}
	return len(block) / channels
}

// synthesizeTimestamps builds a uniformly spaced timestamp vector for
// `frames` frames at the given sample rate, starting at zero. Used at the
// executor boundary whenever a caller supplies a sample rate rather than
// explicit timestamps (spec.md §9, "normalize to a timestamp vector").
func synthesizeTimestamps(frames int, sampleRateHz float64) Timestamps {
	ts := make(Timestamps, frames)
	if sampleRateHz <= 0 {
		return ts
	}
	periodMs := 1000.0 / sampleRateHz
	for i := range ts {
		ts[i] = float32(float64(i) * periodMs)
	}
	return ts
}

// scaleTimestamps regenerates a uniformly spaced timestamp vector for a
// resizing stage's output, anchored to the first input timestamp and
// spanning to t_first + timeScale*(t_last-t_first), per spec.md §8
// property 7. This is the documented resolution of the open question
// about timestamp regeneration policy (see DESIGN.md): we assume
// near-uniform input timestamps whenever a resizer is present, matching
// the original source's behaviour.
func scaleTimestamps(in Timestamps, outFrames int, timeScale float64) Timestamps {
	out := make(Timestamps, outFrames)
	if outFrames == 0 {
		return out
	}
	if len(in) == 0 {
		return out
	}
	first := float64(in[0])
	last := first
	if len(in) > 1 {
		last = float64(in[len(in)-1])
	}
	span := (last - first) * timeScale
	if outFrames == 1 {
		out[0] = float32(first)
		return out
	}
	step := span / float64(outFrames-1)
	for i := range out {
		out[i] = float32(first + step*float64(i))
	}
	return out
}
