package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Waveform length, slope sign change (SSC) and Willison
 *		amplitude (WAMP) stages (spec.md §4.5). All three share
 *		a per-channel circular history of the last windowSize+1
 *		raw samples, which is enough to reconstruct every
 *		consecutive-difference pair the window needs.
 *
 *----------------------------------------------------------------*/

import "math"

type waveformKind int

const (
	waveformWL waveformKind = iota
	waveformSSC
	waveformWAMP
)

type waveformStage struct {
	stageBase
	typeName   string
	kind       waveformKind
	windowSize int
	threshold  float64

	channels []waveformChannel
}

type waveformChannel struct {
	ring     []float64
	head     int
	len      int
	capacity int
}

func newWaveformChannel(windowSize int) waveformChannel {
	cap := windowSize + 1
	return waveformChannel{ring: make([]float64, cap), capacity: cap}
}

func (c *waveformChannel) push(v float64) {
	if c.len == c.capacity {
		c.head = (c.head + 1) % c.capacity
	} else {
		c.len++
	}
	idx := (c.head + c.len - 1) % c.capacity
	c.ring[idx] = v
}

func (c *waveformChannel) contents() []float64 {
	out := make([]float64, c.len)
	for i := 0; i < c.len; i++ {
		out[i] = c.ring[(c.head+i)%c.capacity]
	}
	return out
}

func (w *waveformStage) Type() string { return w.typeName }

func (w *waveformStage) ensureChannels(channels int) {
	if len(w.channels) == channels {
		return
	}
	w.channels = make([]waveformChannel, channels)
	for i := range w.channels {
		w.channels[i] = newWaveformChannel(w.windowSize)
	}
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func (w *waveformStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	w.ensureChannels(channels)

	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			x := float64(buf[f*channels+c])
			ch := &w.channels[c]
			ch.push(x)
			samples := ch.contents()

			var out float64
			switch w.kind {
			case waveformWL:
				for i := 1; i < len(samples); i++ {
					out += math.Abs(samples[i] - samples[i-1])
				}
			case waveformWAMP:
				for i := 1; i < len(samples); i++ {
					if math.Abs(samples[i]-samples[i-1]) > w.threshold {
						out++
					}
				}
			case waveformSSC:
				for i := 1; i < len(samples)-1; i++ {
					d1 := samples[i] - samples[i-1]
					d2 := samples[i+1] - samples[i]
					if sign(d1) != sign(d2) && math.Max(math.Abs(d1), math.Abs(d2)) > w.threshold {
						out++
					}
				}
			}
			buf[f*channels+c] = float32(out)
		}
	}
	return nil
}

func (w *waveformStage) SerializeState() map[string]any {
	chans := make([]any, len(w.channels))
	for i := range w.channels {
		chans[i] = map[string]any{"values": w.channels[i].contents()}
	}
	return map[string]any{"channels": chans}
}

func (w *waveformStage) DeserializeState(state map[string]any) error {
	rawChans := toAnySlice(state["channels"])
	w.channels = make([]waveformChannel, len(rawChans))
	for i, rc := range rawChans {
		ch := newWaveformChannel(w.windowSize)
		if m, ok := toStringMap(rc); ok {
			values, _ := paramFloatSlice(m, "values")
			for _, v := range values {
				ch.push(v)
			}
		}
		w.channels[i] = ch
	}
	return nil
}

func (w *waveformStage) Reset() {
	for i := range w.channels {
		w.channels[i] = newWaveformChannel(w.windowSize)
	}
}

func (w *waveformStage) ConfigSummary() map[string]any {
	cfg := map[string]any{"windowSize": w.windowSize}
	if w.kind != waveformWL {
		cfg["threshold"] = w.threshold
	}
	return cfg
}

func newWaveformStage(typeName string, kind waveformKind, params map[string]any) (Stage, error) {
	windowSize, err := requirePositiveInt(params, "windowSize")
	if err != nil {
		return nil, err
	}
	s := &waveformStage{typeName: typeName, kind: kind, windowSize: windowSize}
	if kind != waveformWL {
		threshold, ok := paramFloat(params, "threshold", -1)
		if !ok || threshold < 0 {
			return nil, &InvalidParameterError{Field: "threshold", Reason: "must be >= 0"}
		}
		s.threshold = threshold
	}
	return s, nil
}

func init() {
	registerStage("waveformLength", func(p map[string]any) (Stage, error) { return newWaveformStage("waveformLength", waveformWL, p) })
	registerStage("ssc", func(p map[string]any) (Stage, error) { return newWaveformStage("ssc", waveformSSC, p) })
	registerStage("wamp", func(p map[string]any) (Stage, error) { return newWaveformStage("wamp", waveformWAMP, p) })
}
