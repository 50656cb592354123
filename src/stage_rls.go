package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Recursive least squares (RLS) adaptive filter stage
 *		(spec.md §4.8). Same two-channel I/O contract as LMS,
 *		but maintains the full inverse-covariance matrix P for
 *		an O(N^2)-per-sample update instead of LMS's O(N)
 *		gradient step. The matrix bookkeeping rides on
 *		gonum.org/v1/gonum/mat, the same linear-algebra library
 *		used by the matrix-transform stages and calculate-PCA
 *		family (see linalg.go, DESIGN.md).
 *
 *----------------------------------------------------------------*/

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type rlsStage struct {
	stageBase
	numTaps int
	lambda  float64
	delta   float64

	weights []float64
	history []float64
	P       *mat.Dense
}

func (r *rlsStage) Type() string          { return "rlsFilter" }
func (r *rlsStage) ExpectedChannels() int { return 2 }

func (r *rlsStage) ensure() {
	if r.weights == nil {
		r.Reset()
	}
}

func (r *rlsStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	if channels != 2 {
		return &ChannelMismatchError{Expected: 2, Got: channels}
	}
	r.ensure()
	n := r.numTaps

	weightsVec := mat.NewVecDense(n, r.weights)

	for f := 0; f < frames; f++ {
		x := float64(buf[f*2+0])
		d := float64(buf[f*2+1])

		copy(r.history[1:], r.history[:len(r.history)-1])
		r.history[0] = x
		histVec := mat.NewVecDense(n, r.history)

		var piVec mat.VecDense
		piVec.MulVec(r.P, histVec)

		denom := r.lambda + mat.Dot(histVec, &piVec)
		var kVec mat.VecDense
		kVec.ScaleVec(1/denom, &piVec)

		y := mat.Dot(weightsVec, histVec)
		e := d - y

		weightsVec.AddScaledVec(weightsVec, e, &kVec)

		var outer mat.Dense
		outer.Outer(1, &kVec, &piVec)
		r.P.Sub(r.P, &outer)
		r.P.Scale(1/r.lambda, r.P)

		if !checkFinite(r.weights) || !matFinite(r.P) {
			ctx.Log("pipeline.stage.rlsFilter.error", LevelError, "adaptive state diverged; resetting", map[string]any{
				"numTaps": r.numTaps,
			})
			r.Reset()
			weightsVec = mat.NewVecDense(n, r.weights)
		}

		buf[f*2+0] = float32(e)
		buf[f*2+1] = float32(e)
	}
	return nil
}

func matFinite(m *mat.Dense) bool {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if v != v || v > maxFinite || v < -maxFinite {
				return false
			}
		}
	}
	return true
}

func (r *rlsStage) SerializeState() map[string]any {
	rows, cols := r.P.Dims()
	pFlat := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			pFlat[i*cols+j] = r.P.At(i, j)
		}
	}
	return map[string]any{
		"weights": append([]float64(nil), r.weights...),
		"history": append([]float64(nil), r.history...),
		"P":       pFlat,
	}
}

func (r *rlsStage) DeserializeState(state map[string]any) error {
	weights, ok := paramFloatSlice(state, "weights")
	if !ok || len(weights) != r.numTaps {
		return &StateFormatMismatchError{Field: "weights", Reason: fmt.Sprintf("expected length %d", r.numTaps)}
	}
	history, ok := paramFloatSlice(state, "history")
	if !ok || len(history) != r.numTaps {
		return &StateFormatMismatchError{Field: "history", Reason: fmt.Sprintf("expected length %d", r.numTaps)}
	}
	pFlat, ok := paramFloatSlice(state, "P")
	if !ok || len(pFlat) != r.numTaps*r.numTaps {
		return &StateFormatMismatchError{Field: "P", Reason: fmt.Sprintf("expected %d entries", r.numTaps*r.numTaps)}
	}
	r.weights = weights
	r.history = history
	r.P = mat.NewDense(r.numTaps, r.numTaps, pFlat)
	return nil
}

func (r *rlsStage) Reset() {
	r.weights = make([]float64, r.numTaps)
	r.history = make([]float64, r.numTaps)
	data := make([]float64, r.numTaps*r.numTaps)
	invDelta := 1 / r.delta
	for i := 0; i < r.numTaps; i++ {
		data[i*r.numTaps+i] = invDelta
	}
	r.P = mat.NewDense(r.numTaps, r.numTaps, data)
}

func (r *rlsStage) ConfigSummary() map[string]any {
	return map[string]any{"numTaps": r.numTaps, "lambda": r.lambda, "delta": r.delta}
}

func init() {
	registerStage("rlsFilter", func(p map[string]any) (Stage, error) {
		numTaps, err := requirePositiveInt(p, "numTaps")
		if err != nil {
			return nil, err
		}
		lambda, ok := paramFloat(p, "lambda", 1)
		if !ok {
			lambda = 1
		}
		if err := requireRange("lambda", lambda, 0, 1, false, true); err != nil {
			return nil, err
		}
		delta, ok := paramFloat(p, "delta", 0.01)
		if !ok || delta <= 0 {
			return nil, &InvalidParameterError{Field: "delta", Reason: "must be > 0"}
		}
		s := &rlsStage{numTaps: numTaps, lambda: lambda, delta: delta}
		s.Reset()
		return s, nil
	})
}
