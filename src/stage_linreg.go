package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Linear regression stage (spec.md §4.6): per-channel
 *		sliding-window least-squares fit against the relative
 *		in-window sample index.
 *
 *----------------------------------------------------------------*/

type linRegOutput int

const (
	linRegSlope linRegOutput = iota
	linRegIntercept
	linRegResiduals
	linRegPredictions
)

type linRegStage struct {
	stageBase
	windowSize int
	output     linRegOutput
	windows    []*slidingWindow
}

func (l *linRegStage) Type() string { return "linearRegression" }

func (l *linRegStage) ensureChannels(channels int) {
	if len(l.windows) == channels {
		return
	}
	l.windows = make([]*slidingWindow, channels)
	for i := range l.windows {
		l.windows[i] = newSlidingWindowSamples(l.windowSize)
	}
}

// fitWindow performs an ordinary least-squares fit of the window's values
// against x = 0..n-1, returning (slope, intercept, predictionAtLast).
func fitWindow(values []float64) (slope, intercept, predictionAtLast float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0
	}
	if n < 2 {
		return 0, values[n-1], values[n-1]
	}
	var sx, sy, sxx, sxy float64
	for i, y := range values {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	fn := float64(n)
	denom := fn*sxx - sx*sx
	if denom == 0 {
		// Zero variance in x cannot actually happen for n>=2 consecutive
		// integers, but guard per spec.md's tie-break rule anyway.
		return 0, values[n-1], values[n-1]
	}
	slope = (fn*sxy - sx*sy) / denom
	intercept = (sy - slope*sx) / fn
	predictionAtLast = intercept + slope*float64(n-1)
	return
}

func (l *linRegStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	l.ensureChannels(channels)

	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			x := float64(buf[f*channels+c])
			w := l.windows[c]
			w.push(x, 0)
			values := w.contents()
			slope, intercept, prediction := fitWindow(values)

			var out float64
			switch l.output {
			case linRegSlope:
				out = slope
			case linRegIntercept:
				out = intercept
			case linRegPredictions:
				out = prediction
			case linRegResiduals:
				out = values[len(values)-1] - prediction
			}
			buf[f*channels+c] = float32(out)
		}
	}
	return nil
}

func (l *linRegStage) SerializeState() map[string]any {
	chans := make([]any, len(l.windows))
	for i, w := range l.windows {
		chans[i] = map[string]any{"values": w.contents()}
	}
	return map[string]any{"channels": chans}
}

func (l *linRegStage) DeserializeState(state map[string]any) error {
	rawChans := toAnySlice(state["channels"])
	l.windows = make([]*slidingWindow, len(rawChans))
	for i, rc := range rawChans {
		w := newSlidingWindowSamples(l.windowSize)
		if m, ok := toStringMap(rc); ok {
			values, _ := paramFloatSlice(m, "values")
			for _, v := range values {
				w.push(v, 0)
			}
		}
		l.windows[i] = w
	}
	return nil
}

func (l *linRegStage) Reset() {
	for _, w := range l.windows {
		w.reset()
	}
}

func (l *linRegStage) ConfigSummary() map[string]any {
	return map[string]any{"windowSize": l.windowSize, "output": int(l.output)}
}

func init() {
	registerStage("linearRegression", func(p map[string]any) (Stage, error) {
		windowSize, err := requirePositiveInt(p, "windowSize")
		if err != nil {
			return nil, err
		}
		s := &linRegStage{windowSize: windowSize}
		switch paramString(p, "output", "slope") {
		case "slope":
			s.output = linRegSlope
		case "intercept":
			s.output = linRegIntercept
		case "residuals":
			s.output = linRegResiduals
		case "predictions":
			s.output = linRegPredictions
		default:
			return nil, &InvalidParameterError{Field: "output", Reason: `must be one of "slope","intercept","residuals","predictions"`}
		}
		return s, nil
	})
}
