package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Rectify stage (spec.md §4.4): stateless, in-place
 *		full-wave or half-wave rectification.
 *
 *----------------------------------------------------------------*/

import "math"

type rectifyMode int

const (
	rectifyFull rectifyMode = iota
	rectifyHalf
)

type rectifyStage struct {
	stageBase
	mode rectifyMode
}

func (r *rectifyStage) Type() string { return "rectify" }

func (r *rectifyStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	for i, v := range buf {
		switch r.mode {
		case rectifyHalf:
			buf[i] = float32(math.Max(float64(v), 0))
		default:
			buf[i] = float32(math.Abs(float64(v)))
		}
	}
	return nil
}

func (r *rectifyStage) SerializeState() map[string]any   { return nil }
func (r *rectifyStage) DeserializeState(map[string]any) error { return nil }
func (r *rectifyStage) Reset()                            {}
func (r *rectifyStage) ConfigSummary() map[string]any {
	return map[string]any{"mode": int(r.mode)}
}

func init() {
	registerStage("rectify", func(p map[string]any) (Stage, error) {
		mode := paramString(p, "mode", "full")
		s := &rectifyStage{}
		switch mode {
		case "full":
			s.mode = rectifyFull
		case "half":
			s.mode = rectifyHalf
		default:
			return nil, &InvalidParameterError{Field: "mode", Reason: `must be "full" or "half"`}
		}
		return s, nil
	})
}
