package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Adaptive LMS filter stage (spec.md §4.7): channel 0 is
 *		the primary input, channel 1 the desired/reference
 *		signal; both channels receive the error signal e[n].
 *		Supports plain LMS, NLMS (normalized step size) and
 *		leaky LMS (weight decay) in one state machine.
 *
 *----------------------------------------------------------------*/

import "fmt"

const nlmsBeta = 0.99
const nlmsDelta = 1e-8

type lmsStage struct {
	stageBase
	numTaps      int
	mu           float64
	lambda       float64
	nlms         bool

	weights []float64
	history []float64 // shift register, history[0] = most recent sample
	power   float64
}

func (l *lmsStage) Type() string         { return "lmsFilter" }
func (l *lmsStage) ExpectedChannels() int { return 2 }

func (l *lmsStage) ensure() {
	if l.weights == nil {
		l.weights = make([]float64, l.numTaps)
		l.history = make([]float64, l.numTaps)
	}
}

func (l *lmsStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	if channels != 2 {
		return &ChannelMismatchError{Expected: 2, Got: channels}
	}
	l.ensure()

	for f := 0; f < frames; f++ {
		x := float64(buf[f*2+0])
		d := float64(buf[f*2+1])

		// shift history right by one, insert x at head
		copy(l.history[1:], l.history[:len(l.history)-1])
		l.history[0] = x

		y := Dot(l.weights, l.history)
		e := d - y

		step := l.mu
		if l.nlms {
			l.power = nlmsBeta*l.power + (1-nlmsBeta)*x*x
			step = l.mu / (l.power + nlmsDelta)
		}

		for k := range l.weights {
			decayed := l.weights[k]
			if l.lambda > 0 {
				decayed = (1 - l.mu*l.lambda) * decayed
			}
			l.weights[k] = decayed + step*e*l.history[k]
		}

		if !checkFinite(l.weights) {
			ctx.Log("pipeline.stage.lmsFilter.error", LevelError, "adaptive weights diverged; resetting", map[string]any{
				"numTaps": l.numTaps,
			})
			l.Reset()
		}

		buf[f*2+0] = float32(e)
		buf[f*2+1] = float32(e)
	}
	return nil
}

func (l *lmsStage) SerializeState() map[string]any {
	return map[string]any{
		"weights": append([]float64(nil), l.weights...),
		"history": append([]float64(nil), l.history...),
		"power":   l.power,
	}
}

func (l *lmsStage) DeserializeState(state map[string]any) error {
	weights, ok := paramFloatSlice(state, "weights")
	if !ok || len(weights) != l.numTaps {
		return &StateFormatMismatchError{Field: "weights", Reason: fmt.Sprintf("expected length %d", l.numTaps)}
	}
	history, ok := paramFloatSlice(state, "history")
	if !ok || len(history) != l.numTaps {
		return &StateFormatMismatchError{Field: "history", Reason: fmt.Sprintf("expected length %d", l.numTaps)}
	}
	power, _ := paramFloat(state, "power", 0)

	l.weights = weights
	l.history = history
	l.power = power
	return nil
}

func (l *lmsStage) Reset() {
	l.weights = make([]float64, l.numTaps)
	l.history = make([]float64, l.numTaps)
	l.power = 0
}

func (l *lmsStage) ConfigSummary() map[string]any {
	return map[string]any{"numTaps": l.numTaps, "mu": l.mu, "lambda": l.lambda, "nlms": l.nlms}
}

func init() {
	registerStage("lmsFilter", func(p map[string]any) (Stage, error) {
		numTaps, err := requirePositiveInt(p, "numTaps")
		if err != nil {
			return nil, err
		}
		mu, ok := paramFloat(p, "learningRate", 0)
		if !ok {
			return nil, &InvalidParameterError{Field: "learningRate", Reason: "required, must be in (0,1]"}
		}
		if err := requireRange("learningRate", mu, 0, 1, false, true); err != nil {
			return nil, err
		}
		lambda, _ := paramFloat(p, "lambda", 0)
		if err := requireRange("lambda", lambda, 0, 1, true, false); err != nil {
			return nil, err
		}
		nlms := paramBool(p, "nlms", false)

		s := &lmsStage{numTaps: numTaps, mu: mu, lambda: lambda, nlms: nlms}
		s.Reset()
		return s, nil
	})
}
