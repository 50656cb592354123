package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Shannon entropy and Hjorth parameter stages. spec.md §2
 *		and §4.3 name both as consumers of the shared
 *		sliding-window primitive alongside moving average/RMS/
 *		variance/MAV/Z-score, without pinning exact formulas;
 *		these follow the standard definitions (histogram entropy
 *		over the window, activity/mobility/complexity over the
 *		window and its first difference), built the same
 *		batch-or-moving way as stage_stats.go.
 *
 *----------------------------------------------------------------*/

import "math"

const defaultEntropyBins = 10

type entropyStage struct {
	stageBase
	mode       WindowMode
	windowSize int
	durationMs float64
	numBins    int

	windows []*slidingWindow
}

func (e *entropyStage) Type() string { return "entropy" }

func (e *entropyStage) ensureChannels(channels int) {
	if len(e.windows) == channels {
		return
	}
	e.windows = make([]*slidingWindow, channels)
	for c := range e.windows {
		if e.mode == WindowModeMovingSamples {
			e.windows[c] = newSlidingWindowSamples(e.windowSize)
		} else {
			e.windows[c] = newSlidingWindowTime(e.durationMs)
		}
	}
}

// shannonEntropy bins values into numBins equal-width bins spanning
// [min,max] and returns -sum(p*log2(p)) over non-empty bins, in bits.
func shannonEntropy(values []float64, numBins int) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return 0
	}
	counts := make([]int, numBins)
	width := (hi - lo) / float64(numBins)
	for _, v := range values {
		bin := int((v - lo) / width)
		if bin >= numBins {
			bin = numBins - 1
		}
		counts[bin]++
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

func (e *entropyStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	e.ensureChannels(channels)

	if e.mode == WindowModeBatch {
		for c := 0; c < channels; c++ {
			chanData := make([]float64, frames)
			for f := 0; f < frames; f++ {
				chanData[f] = float64(buf[f*channels+c])
			}
			h := shannonEntropy(chanData, e.numBins)
			for f := 0; f < frames; f++ {
				buf[f*channels+c] = float32(h)
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
			w := e.windows[c]
			w.push(x, tsMs)
			buf[f*channels+c] = float32(shannonEntropy(w.contents(), e.numBins))
		}
	}
	return nil
}

func (e *entropyStage) SerializeState() map[string]any {
	chans := make([]any, len(e.windows))
	for i, w := range e.windows {
		chans[i] = map[string]any{"values": w.contents()}
	}
	return map[string]any{"channels": chans}
}

func (e *entropyStage) DeserializeState(state map[string]any) error {
	raw := toAnySlice(state["channels"])
	e.windows = make([]*slidingWindow, len(raw))
	for i, rc := range raw {
		var w *slidingWindow
		if e.mode == WindowModeMovingSamples {
			w = newSlidingWindowSamples(e.windowSize)
		} else {
			w = newSlidingWindowTime(e.durationMs)
		}
		if m, ok := toStringMap(rc); ok {
			values, _ := paramFloatSlice(m, "values")
			for _, v := range values {
				w.push(v, 0)
			}
		}
		e.windows[i] = w
	}
	return nil
}

func (e *entropyStage) Reset() {
	for _, w := range e.windows {
		w.reset()
	}
}

func (e *entropyStage) ConfigSummary() map[string]any {
	cfg := map[string]any{"mode": int(e.mode), "numBins": e.numBins}
	if e.mode == WindowModeMovingSamples {
		cfg["windowSize"] = e.windowSize
	} else {
		cfg["windowDuration"] = e.durationMs
	}
	return cfg
}

func init() {
	registerStage("entropy", func(p map[string]any) (Stage, error) {
		s := &entropyStage{numBins: defaultEntropyBins}
		if bins, ok := paramInt(p, "numBins", defaultEntropyBins); ok && bins > 1 {
			s.numBins = bins
		}
		switch paramString(p, "mode", "moving") {
		case "batch":
			s.mode = WindowModeBatch
		case "moving":
			if ws, ok := paramInt(p, "windowSize", 0); ok && ws > 0 {
				s.mode = WindowModeMovingSamples
				s.windowSize = ws
			} else if wd, ok := paramFloat(p, "windowDuration", 0); ok && wd > 0 {
				s.mode = WindowModeMovingTime
				s.durationMs = wd
			} else {
				return nil, &InvalidParameterError{Field: "windowSize", Reason: "positive integer (sample-mode) or windowDuration positive real ms (time-mode) required when mode=moving"}
			}
		default:
			return nil, &InvalidParameterError{Field: "mode", Reason: `must be "batch" or "moving"`}
		}
		return s, nil
	})
}

// ---- Hjorth parameters --------------------------------------------------

type hjorthOutput int

const (
	hjorthActivity hjorthOutput = iota
	hjorthMobility
	hjorthComplexity
)

type hjorthStage struct {
	stageBase
	windowSize int
	output     hjorthOutput
	windows    []*slidingWindow
}

func (h *hjorthStage) Type() string { return "hjorth" }

func (h *hjorthStage) ensureChannels(channels int) {
	if len(h.windows) == channels {
		return
	}
	h.windows = make([]*slidingWindow, channels)
	for c := range h.windows {
		h.windows[c] = newSlidingWindowSamples(h.windowSize)
	}
}

func diffSeries(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

func varianceOf(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	var acc float64
	for _, v := range values {
		d := v - mean
		acc += d * d
	}
	return acc / float64(n-1)
}

// hjorthParameters computes activity (variance of the raw window),
// mobility (sqrt(var(diff)/var(x))) and complexity
// (mobility(diff)/mobility(x)), the standard time-domain EEG descriptors.
func hjorthParameters(values []float64) (activity, mobility, complexity float64) {
	activity = varianceOf(values)
	d1 := diffSeries(values)
	varD1 := varianceOf(d1)
	if activity <= 0 {
		return activity, 0, 0
	}
	mobility = math.Sqrt(varD1 / activity)
	d2 := diffSeries(d1)
	varD2 := varianceOf(d2)
	var mobilityD1 float64
	if varD1 > 0 {
		mobilityD1 = math.Sqrt(varD2 / varD1)
	}
	if mobility > 0 {
		complexity = mobilityD1 / mobility
	}
	return
}

func (h *hjorthStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	h.ensureChannels(channels)

	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			x := float64(buf[f*channels+c])
			w := h.windows[c]
			w.push(x, 0)
			activity, mobility, complexity := hjorthParameters(w.contents())

			var out float64
			switch h.output {
			case hjorthActivity:
				out = activity
			case hjorthMobility:
				out = mobility
			case hjorthComplexity:
				out = complexity
			}
			buf[f*channels+c] = float32(out)
		}
	}
	return nil
}

func (h *hjorthStage) SerializeState() map[string]any {
	chans := make([]any, len(h.windows))
	for i, w := range h.windows {
		chans[i] = map[string]any{"values": w.contents()}
	}
	return map[string]any{"channels": chans}
}

func (h *hjorthStage) DeserializeState(state map[string]any) error {
	raw := toAnySlice(state["channels"])
	h.windows = make([]*slidingWindow, len(raw))
	for i, rc := range raw {
		w := newSlidingWindowSamples(h.windowSize)
		if m, ok := toStringMap(rc); ok {
			values, _ := paramFloatSlice(m, "values")
			for _, v := range values {
				w.push(v, 0)
			}
		}
		h.windows[i] = w
	}
	return nil
}

func (h *hjorthStage) Reset() {
	for _, w := range h.windows {
		w.reset()
	}
}

func (h *hjorthStage) ConfigSummary() map[string]any {
	return map[string]any{"windowSize": h.windowSize, "output": int(h.output)}
}

func init() {
	registerStage("hjorth", func(p map[string]any) (Stage, error) {
		windowSize, err := requirePositiveInt(p, "windowSize")
		if err != nil {
			return nil, err
		}
		s := &hjorthStage{windowSize: windowSize}
		switch paramString(p, "output", "activity") {
		case "activity":
			s.output = hjorthActivity
		case "mobility":
			s.output = hjorthMobility
		case "complexity":
			s.output = hjorthComplexity
		default:
			return nil, &InvalidParameterError{Field: "output", Reason: `must be one of "activity","mobility","complexity"`}
		}
		return s, nil
	})
}
