package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Moving-average, RMS, variance, MAV and Z-score stages
 *		(spec.md §4.3), all built on the shared sliding-window
 *		primitive (window.go).
 *
 *----------------------------------------------------------------*/

import (
	"math"
)

type statKind int

const (
	statMean statKind = iota
	statRMS
	statVariance
	statMAV
	statZScore
)

const defaultZScoreEpsilon = 1e-6

type statsStage struct {
	stageBase
	typeName   string
	kind       statKind
	mode       WindowMode
	windowSize int
	durationMs float64
	epsilon    float64

	windows []*slidingWindow
}

func newStatsWindow(s *statsStage) *slidingWindow {
	switch s.mode {
	case WindowModeMovingSamples:
		return newSlidingWindowSamples(s.windowSize)
	case WindowModeMovingTime:
		return newSlidingWindowTime(s.durationMs)
	default:
		return nil
	}
}

func (s *statsStage) ensureChannels(channels int) {
	if len(s.windows) == channels {
		return
	}
	s.windows = make([]*slidingWindow, channels)
	if s.mode != WindowModeBatch {
		for c := range s.windows {
			s.windows[c] = newStatsWindow(s)
		}
	}
}

func (s *statsStage) Type() string { return s.typeName }

func (s *statsStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	s.ensureChannels(channels)

	if s.mode == WindowModeBatch {
		for c := 0; c < channels; c++ {
			chanData := make([]float64, frames)
			for f := 0; f < frames; f++ {
				chanData[f] = float64(buf[f*channels+c])
			}
			var out float64
			switch s.kind {
			case statMean:
				out = batchMean(chanData)
			case statRMS:
				out = batchRMS(chanData)
			case statVariance:
				out = batchVariance(chanData)
			case statMAV:
				out = batchMAV(chanData)
			case statZScore:
				mean := batchMean(chanData)
				variance := batchVariance(chanData)
				denom := math.Sqrt(variance + s.epsilon)
				for f := 0; f < frames; f++ {
					buf[f*channels+c] = float32((chanData[f] - mean) / denom)
				}
				continue
			}
			for f := 0; f < frames; f++ {
				buf[f*channels+c] = float32(out)
			}
		}
		return nil
	}

	for f := 0; f < frames; f++ {
		tsMs := 0.0
		if f < len(ts) {
			tsMs = float64(ts[f])
		}
		for c := 0; c < channels; c++ {
			x := float64(buf[f*channels+c])
			w := s.windows[c]

			switch s.kind {
			case statMAV:
				w.push(math.Abs(x), tsMs)
				buf[f*channels+c] = float32(w.mav())
			case statRMS:
				w.push(x, tsMs)
				buf[f*channels+c] = float32(w.rms())
			case statVariance:
				w.push(x, tsMs)
				buf[f*channels+c] = float32(w.variance())
			case statZScore:
				w.push(x, tsMs)
				denom := math.Sqrt(w.variance() + s.epsilon)
				buf[f*channels+c] = float32((x - w.mean()) / denom)
			default: // statMean
				w.push(x, tsMs)
				buf[f*channels+c] = float32(w.mean())
			}
		}
	}
	return nil
}

func (s *statsStage) SerializeState() map[string]any {
	chans := make([]map[string]any, len(s.windows))
	for i, w := range s.windows {
		if w == nil {
			continue
		}
		chans[i] = map[string]any{
			"sum":     w.sum,
			"sumSq":   w.sumSq,
			"values":  w.contents(),
			"ringLen": w.ringLen,
		}
	}
	return map[string]any{"channels": chans}
}

func (s *statsStage) DeserializeState(state map[string]any) error {
	rawChans := toAnySlice(state["channels"])
	restored := make([]*slidingWindow, len(rawChans))
	for i, rc := range rawChans {
		m, ok := toStringMap(rc)
		if !ok {
			restored[i] = newStatsWindow(s)
			continue
		}
		w := newStatsWindow(s)
		if w != nil {
			values, _ := paramFloatSlice(m, "values")
			for _, v := range values {
				w.push(v, 0)
			}
			if s.mode == WindowModeMovingSamples && s.windowSize != 0 {
				if len(values) > 0 && !w.runningSumConsistent() {
					return &StateFormatMismatchError{Field: "channels", Reason: "running sum inconsistent with restored window contents"}
				}
			}
			if savedSum, ok := paramFloat(m, "sum", w.sum); ok && math.Abs(savedSum-w.sum) > 1e-4*float64(len(values)+1) {
				return &StateFormatMismatchError{Field: "sum", Reason: "saved running sum does not match restored window contents"}
			}
		}
		restored[i] = w
	}
	s.windows = restored
	return nil
}

func (s *statsStage) Reset() {
	for _, w := range s.windows {
		if w != nil {
			w.reset()
		}
	}
}

func (s *statsStage) ConfigSummary() map[string]any {
	cfg := map[string]any{"mode": int(s.mode)}
	if s.mode == WindowModeMovingSamples {
		cfg["windowSize"] = s.windowSize
	}
	if s.mode == WindowModeMovingTime {
		cfg["windowDuration"] = s.durationMs
	}
	if s.kind == statZScore {
		cfg["epsilon"] = s.epsilon
	}
	return cfg
}

func newStatsStage(typeName string, kind statKind, params map[string]any) (Stage, error) {
	modeStr := paramString(params, "mode", "batch")
	s := &statsStage{typeName: typeName, kind: kind, epsilon: defaultZScoreEpsilon}

	switch modeStr {
	case "batch":
		s.mode = WindowModeBatch
	case "moving":
		if ws, ok := paramInt(params, "windowSize", 0); ok && ws > 0 {
			s.mode = WindowModeMovingSamples
			s.windowSize = ws
		} else if wd, ok := paramFloat(params, "windowDuration", 0); ok && wd > 0 {
			s.mode = WindowModeMovingTime
			s.durationMs = wd
		} else {
			return nil, &InvalidParameterError{Field: "windowSize", Reason: "positive integer (sample-mode) or windowDuration positive real ms (time-mode) required when mode=moving"}
		}
	default:
		return nil, &InvalidParameterError{Field: "mode", Reason: `must be "batch" or "moving"`}
	}

	if kind == statZScore {
		if eps, ok := paramFloat(params, "epsilon", 0); ok && eps > 0 {
			s.epsilon = eps
		}
	}

	return s, nil
}

func init() {
	registerStage("movingAverage", func(p map[string]any) (Stage, error) { return newStatsStage("movingAverage", statMean, p) })
	registerStage("rms", func(p map[string]any) (Stage, error) { return newStatsStage("rms", statRMS, p) })
	registerStage("variance", func(p map[string]any) (Stage, error) { return newStatsStage("variance", statVariance, p) })
	registerStage("mav", func(p map[string]any) (Stage, error) { return newStatsStage("mav", statMAV, p) })
	registerStage("zscore", func(p map[string]any) (Stage, error) { return newStatsStage("zscore", statZScore, p) })
}
