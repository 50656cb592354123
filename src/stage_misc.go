package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	GSC preprocessor, channel routing stages, clip/peak
 *		detection, differentiator, integrator and SNR (spec.md
 *		§4.13) - the small, mostly-stateless utility stages that
 *		sit between the heavier filter/transform stages in a
 *		typical pipeline.
 *
 *----------------------------------------------------------------*/

import "math"

// ---- GSC preprocessor --------------------------------------------------

// gscStage implements the generalized-sidelobe-canceller front end: a
// fixed steering vector s (unit norm) and a blocking matrix B whose
// columns are orthogonal to s. Channel 0 of the output carries the first
// blocking-matrix column applied to the frame (primary noise reference),
// channel 1 the steered (desired) signal; remaining channels are zeroed.
// Non-resizing: channel count is unchanged, matching spec.md §4.13's
// "resizing-in-channels-but-not-in-frames" framing, with an actual
// channel-count reduction left to a following ChannelSelector.
type gscStage struct {
	stageBase
	numChannels int
	s           []float64   // steering vector, length N
	b           [][]float64 // blocking matrix columns, each length N; b[0] used
}

func (g *gscStage) Type() string          { return "gsc" }
func (g *gscStage) ExpectedChannels() int { return g.numChannels }

func (g *gscStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	if channels != g.numChannels {
		return &ChannelMismatchError{Expected: g.numChannels, Got: channels}
	}
	x := make([]float64, channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			x[c] = float64(buf[f*channels+c])
		}
		var blocked, steered float64
		for c := 0; c < channels; c++ {
			blocked += g.b[0][c] * x[c]
			steered += g.s[c] * x[c]
		}
		buf[f*channels+0] = float32(blocked)
		buf[f*channels+1] = float32(steered)
		for c := 2; c < channels; c++ {
			buf[f*channels+c] = 0
		}
	}
	return nil
}

func (g *gscStage) SerializeState() map[string]any      { return map[string]any{} }
func (g *gscStage) DeserializeState(map[string]any) error { return nil }
func (g *gscStage) Reset()                               {}
func (g *gscStage) ConfigSummary() map[string]any {
	return map[string]any{"numChannels": g.numChannels}
}

func init() {
	registerStage("gsc", func(p map[string]any) (Stage, error) {
		numChannels, err := requirePositiveInt(p, "numChannels")
		if err != nil {
			return nil, err
		}
		if numChannels < 2 {
			return nil, &InvalidParameterError{Field: "numChannels", Reason: "must be >= 2"}
		}
		steering, ok := paramFloatSlice(p, "steering")
		if !ok || len(steering) != numChannels {
			return nil, &InvalidParameterError{Field: "steering", Reason: "length must equal numChannels"}
		}
		blockingFlat, ok := paramFloatSlice(p, "blockingMatrix")
		if !ok || len(blockingFlat) != numChannels*(numChannels-1) {
			return nil, &InvalidParameterError{Field: "blockingMatrix", Reason: "length must equal numChannels*(numChannels-1)"}
		}
		cols := make([][]float64, numChannels-1)
		for col := 0; col < numChannels-1; col++ {
			cols[col] = make([]float64, numChannels)
			for row := 0; row < numChannels; row++ {
				cols[col][row] = blockingFlat[col*numChannels+row]
			}
		}
		return &gscStage{numChannels: numChannels, s: steering, b: cols}, nil
	})
}

// ---- Channel routing: select / selector / merge -----------------------

// channelRouteStage implements ChannelSelector(K), ChannelSelect(indices)
// and ChannelMerge(mapping) with one shared state machine: output channel
// i takes its value from input channel indices[i]. ChannelSelector(K) is
// the special case indices = [0..K-1]. Resolved here as a true
// channel-count resize (not a zero-mask) so its output can feed a
// fixed-channel-count consumer like lmsFilter/rlsFilter directly, matching
// spec.md §4.13's framing of ChannelSelector narrowing GSC's N channels
// down to the 2 that LMS/RLS expect.
type channelRouteStage struct {
	stageBase
	typeName string
	indices  []int
}

func (c *channelRouteStage) Type() string          { return c.typeName }
func (c *channelRouteStage) IsResizing() bool      { return true }
func (c *channelRouteStage) TimeScaleFactor() float64 { return 1 }
func (c *channelRouteStage) CalculateOutputSize(n int) int { return n }

func (c *channelRouteStage) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	for _, idx := range c.indices {
		if idx < 0 || idx >= channels {
			return nil, nil, &InvalidParameterError{Field: "indices", Reason: "channel index out of range"}
		}
	}
	outChannels := len(c.indices)
	out := make(SampleBlock, framesIn*outChannels)
	for f := 0; f < framesIn; f++ {
		for i, idx := range c.indices {
			out[f*outChannels+i] = in[f*channels+idx]
		}
	}
	return out, append(Timestamps(nil), ts...), nil
}

func (c *channelRouteStage) SerializeState() map[string]any      { return map[string]any{} }
func (c *channelRouteStage) DeserializeState(map[string]any) error { return nil }
func (c *channelRouteStage) Reset()                                {}
func (c *channelRouteStage) ConfigSummary() map[string]any {
	return map[string]any{"indices": append([]int(nil), c.indices...)}
}

func intSliceFromParams(p map[string]any, key string) ([]int, bool) {
	floats, ok := paramFloatSlice(p, key)
	if !ok {
		return nil, false
	}
	out := make([]int, len(floats))
	for i, f := range floats {
		out[i] = int(f)
	}
	return out, true
}

func init() {
	registerStage("channelSelector", func(p map[string]any) (Stage, error) {
		k, err := requirePositiveInt(p, "keep")
		if err != nil {
			return nil, err
		}
		indices := make([]int, k)
		for i := range indices {
			indices[i] = i
		}
		return &channelRouteStage{typeName: "channelSelector", indices: indices}, nil
	})
	registerStage("channelSelect", func(p map[string]any) (Stage, error) {
		indices, ok := intSliceFromParams(p, "indices")
		if !ok || len(indices) == 0 {
			return nil, &InvalidParameterError{Field: "indices", Reason: "must be non-empty"}
		}
		return &channelRouteStage{typeName: "channelSelect", indices: indices}, nil
	})
	registerStage("channelMerge", func(p map[string]any) (Stage, error) {
		mapping, ok := intSliceFromParams(p, "mapping")
		if !ok || len(mapping) == 0 {
			return nil, &InvalidParameterError{Field: "mapping", Reason: "must be non-empty"}
		}
		return &channelRouteStage{typeName: "channelMerge", indices: mapping}, nil
	})
}

// ---- Clip detection -----------------------------------------------------

type clipDetectionStage struct {
	stageBase
	threshold float64
}

func (c *clipDetectionStage) Type() string { return "clipDetection" }

func (c *clipDetectionStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	for i, v := range buf {
		if math.Abs(float64(v)) >= c.threshold {
			buf[i] = 1
		} else {
			buf[i] = 0
		}
	}
	return nil
}

func (c *clipDetectionStage) SerializeState() map[string]any      { return map[string]any{} }
func (c *clipDetectionStage) DeserializeState(map[string]any) error { return nil }
func (c *clipDetectionStage) Reset()                                {}
func (c *clipDetectionStage) ConfigSummary() map[string]any {
	return map[string]any{"threshold": c.threshold}
}

func init() {
	registerStage("clipDetection", func(p map[string]any) (Stage, error) {
		threshold, ok := paramFloat(p, "threshold", -1)
		if !ok || threshold < 0 {
			return nil, &InvalidParameterError{Field: "threshold", Reason: "must be >= 0"}
		}
		return &clipDetectionStage{threshold: threshold}, nil
	})
}

// ---- Peak detection -----------------------------------------------------

// peakDetectionStage implements spec.md §4.13's peak rule in a causal,
// block-boundary-invariant form. The literal rule ("a frame k is a peak
// if x[k-1] > x[k-2] and x[k-1] > x[k] and x[k-1] > threshold, emitted at
// k-1") needs one sample of lookahead, so the whole output stream is
// shifted by exactly one sample: emit[n] reports the peak status of input
// sample n-1 (emit[0] is always 0, the very first sample of the whole
// stream can never be classified). The shift is constant and carried via
// state, so concatenating sub-blocks reproduces the single-block result.
type peakDetectionStage struct {
	stageBase
	threshold    float64
	minDistance  int
	haveHistory  int // 0, 1 or 2: how many of prev2/prev1 are populated
	prev2, prev1 float64
	sinceLastPeak int
}

func (pk *peakDetectionStage) Type() string { return "peakDetection" }

func (pk *peakDetectionStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	if channels != 1 {
		return &ChannelMismatchError{Expected: 1, Got: channels}
	}
	for f := 0; f < frames; f++ {
		x := float64(buf[f])
		var isPeak bool
		if pk.haveHistory == 2 {
			candidate := pk.prev1 > pk.prev2 && pk.prev1 > x && pk.prev1 > pk.threshold
			if candidate && pk.sinceLastPeak >= pk.minDistance {
				isPeak = true
				pk.sinceLastPeak = 0
			} else {
				pk.sinceLastPeak++
			}
		} else {
			pk.sinceLastPeak++
		}

		if isPeak {
			buf[f] = 1
		} else {
			buf[f] = 0
		}

		pk.prev2 = pk.prev1
		pk.prev1 = x
		if pk.haveHistory < 2 {
			pk.haveHistory++
		}
	}
	return nil
}

func (pk *peakDetectionStage) SerializeState() map[string]any {
	return map[string]any{
		"haveHistory":   pk.haveHistory,
		"prev2":         pk.prev2,
		"prev1":         pk.prev1,
		"sinceLastPeak": pk.sinceLastPeak,
	}
}

func (pk *peakDetectionStage) DeserializeState(state map[string]any) error {
	hh, _ := paramInt(state, "haveHistory", 0)
	prev2, _ := paramFloat(state, "prev2", 0)
	prev1, _ := paramFloat(state, "prev1", 0)
	since, _ := paramInt(state, "sinceLastPeak", 0)
	pk.haveHistory, pk.prev2, pk.prev1, pk.sinceLastPeak = hh, prev2, prev1, since
	return nil
}

func (pk *peakDetectionStage) Reset() {
	pk.haveHistory = 0
	pk.prev2, pk.prev1 = 0, 0
	pk.sinceLastPeak = pk.minDistance
}

func (pk *peakDetectionStage) ConfigSummary() map[string]any {
	return map[string]any{"threshold": pk.threshold, "minDistance": pk.minDistance}
}

func init() {
	registerStage("peakDetection", func(p map[string]any) (Stage, error) {
		threshold, _ := paramFloat(p, "threshold", 0)
		minDistance, _ := paramInt(p, "minDistance", 0)
		if minDistance < 0 {
			return nil, &InvalidParameterError{Field: "minDistance", Reason: "must be >= 0"}
		}
		s := &peakDetectionStage{threshold: threshold, minDistance: minDistance}
		s.Reset()
		return s, nil
	})
}

// ---- Differentiator / Integrator ---------------------------------------

type differentiatorStage struct {
	stageBase
	prev []float64
}

func (d *differentiatorStage) Type() string { return "differentiator" }

func (d *differentiatorStage) ensureChannels(channels int) {
	if len(d.prev) != channels {
		d.prev = make([]float64, channels)
	}
}

func (d *differentiatorStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	d.ensureChannels(channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			x := float64(buf[f*channels+c])
			buf[f*channels+c] = float32(x - d.prev[c])
			d.prev[c] = x
		}
	}
	return nil
}

func (d *differentiatorStage) SerializeState() map[string]any {
	return map[string]any{"prev": append([]float64(nil), d.prev...)}
}

func (d *differentiatorStage) DeserializeState(state map[string]any) error {
	prev, ok := paramFloatSlice(state, "prev")
	if !ok {
		return &StateFormatMismatchError{Field: "prev", Reason: "missing or malformed"}
	}
	d.prev = prev
	return nil
}

func (d *differentiatorStage) Reset() {
	for i := range d.prev {
		d.prev[i] = 0
	}
}

func (d *differentiatorStage) ConfigSummary() map[string]any { return map[string]any{} }

func init() {
	registerStage("differentiator", func(p map[string]any) (Stage, error) { return &differentiatorStage{}, nil })
}

type integratorStage struct {
	stageBase
	alpha float64
	prev  []float64
}

func (ig *integratorStage) Type() string { return "integrator" }

func (ig *integratorStage) ensureChannels(channels int) {
	if len(ig.prev) != channels {
		ig.prev = make([]float64, channels)
	}
}

func (ig *integratorStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	ig.ensureChannels(channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			y := float64(buf[f*channels+c]) + ig.alpha*ig.prev[c]
			buf[f*channels+c] = float32(y)
			ig.prev[c] = y
		}
	}
	return nil
}

func (ig *integratorStage) SerializeState() map[string]any {
	return map[string]any{"prev": append([]float64(nil), ig.prev...)}
}

func (ig *integratorStage) DeserializeState(state map[string]any) error {
	prev, ok := paramFloatSlice(state, "prev")
	if !ok {
		return &StateFormatMismatchError{Field: "prev", Reason: "missing or malformed"}
	}
	ig.prev = prev
	return nil
}

func (ig *integratorStage) Reset() {
	for i := range ig.prev {
		ig.prev[i] = 0
	}
}

func (ig *integratorStage) ConfigSummary() map[string]any {
	return map[string]any{"alpha": ig.alpha}
}

func init() {
	registerStage("integrator", func(p map[string]any) (Stage, error) {
		alpha, ok := paramFloat(p, "alpha", 0)
		if !ok {
			return nil, &InvalidParameterError{Field: "alpha", Reason: "required, must be in (0,1]"}
		}
		if err := requireRange("alpha", alpha, 0, 1, false, true); err != nil {
			return nil, err
		}
		return &integratorStage{alpha: alpha}, nil
	})
}

// ---- SNR ----------------------------------------------------------------

type snrStage struct {
	stageBase
	windowSize int
	signal     *slidingWindow
	noise      *slidingWindow
}

func (s *snrStage) Type() string          { return "snr" }
func (s *snrStage) IsResizing() bool      { return true }
func (s *snrStage) TimeScaleFactor() float64 { return 1 }
func (s *snrStage) CalculateOutputSize(n int) int { return n }
func (s *snrStage) ExpectedChannels() int { return 2 }

func (s *snrStage) ensure() {
	if s.signal == nil {
		s.signal = newSlidingWindowSamples(s.windowSize)
		s.noise = newSlidingWindowSamples(s.windowSize)
	}
}

func (s *snrStage) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	if channels != 2 {
		return nil, nil, &ChannelMismatchError{Expected: 2, Got: channels}
	}
	s.ensure()
	out := make(SampleBlock, framesIn)
	for f := 0; f < framesIn; f++ {
		sig := float64(in[f*2+0])
		noi := float64(in[f*2+1])
		s.signal.push(sig*sig, 0)
		s.noise.push(noi*noi, 0)

		powerSig := s.signal.mean()
		powerNoi := s.noise.mean()
		ratio := 10 * math.Log10(powerSig/powerNoi)
		if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			ratio = -100
		}
		ratio = math.Max(-100, math.Min(100, ratio))
		out[f] = float32(ratio)
	}
	outTs := append(Timestamps(nil), ts...)
	return out, outTs, nil
}

func (s *snrStage) SerializeState() map[string]any {
	return map[string]any{"signal": s.signal.contents(), "noise": s.noise.contents()}
}

func (s *snrStage) DeserializeState(state map[string]any) error {
	s.ensure()
	sigVals, _ := paramFloatSlice(state, "signal")
	noiVals, _ := paramFloatSlice(state, "noise")
	s.signal = newSlidingWindowSamples(s.windowSize)
	s.noise = newSlidingWindowSamples(s.windowSize)
	for _, v := range sigVals {
		s.signal.push(v, 0)
	}
	for _, v := range noiVals {
		s.noise.push(v, 0)
	}
	return nil
}

func (s *snrStage) Reset() {
	s.signal = newSlidingWindowSamples(s.windowSize)
	s.noise = newSlidingWindowSamples(s.windowSize)
}

func (s *snrStage) ConfigSummary() map[string]any {
	return map[string]any{"windowSize": s.windowSize}
}

func init() {
	registerStage("snr", func(p map[string]any) (Stage, error) {
		windowSize, err := requirePositiveInt(p, "windowSize")
		if err != nil {
			return nil, err
		}
		s := &snrStage{windowSize: windowSize}
		s.ensure()
		return s, nil
	})
}
