package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Matrix transform stages (spec.md §4.12): PCA, ICA,
 *		whitening and CSP "apply" all share one stateless
 *		per-frame computation, y = W*(x-m), channel-resizing
 *		from numChannels to numComponents. The pre-trained
 *		matrix/mean come from the standalone calculate-* helpers
 *		in linalg.go; this stage only applies them.
 *
 *----------------------------------------------------------------*/

import "gonum.org/v1/gonum/mat"

type matrixTransformKind int

const (
	matrixPCA matrixTransformKind = iota
	matrixICA
	matrixWhitening
	matrixCSP
)

type matrixTransformStage struct {
	stageBase
	kind          matrixTransformKind
	numChannels   int
	numComponents int
	mean          []float64
	w             *mat.Dense // numComponents x numChannels
}

func (m *matrixTransformStage) Type() string {
	switch m.kind {
	case matrixPCA:
		return "pca"
	case matrixICA:
		return "ica"
	case matrixWhitening:
		return "whitening"
	default:
		return "csp"
	}
}

func (m *matrixTransformStage) IsResizing() bool           { return true }
func (m *matrixTransformStage) TimeScaleFactor() float64   { return 1 }
func (m *matrixTransformStage) CalculateOutputSize(n int) int { return n }
func (m *matrixTransformStage) ExpectedChannels() int      { return m.numChannels }

func (m *matrixTransformStage) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	if channels != m.numChannels {
		return nil, nil, &ChannelMismatchError{Expected: m.numChannels, Got: channels}
	}
	out := make(SampleBlock, framesIn*m.numComponents)
	x := mat.NewVecDense(m.numChannels, nil)
	var y mat.VecDense

	for f := 0; f < framesIn; f++ {
		for c := 0; c < m.numChannels; c++ {
			x.SetVec(c, float64(in[f*m.numChannels+c])-m.mean[c])
		}
		y.MulVec(m.w, x)
		for p := 0; p < m.numComponents; p++ {
			out[f*m.numComponents+p] = float32(y.AtVec(p))
		}
	}
	outTs := scaleTimestamps(ts, framesIn, 1)
	return out, outTs, nil
}

func (m *matrixTransformStage) SerializeState() map[string]any { return map[string]any{} }
func (m *matrixTransformStage) DeserializeState(map[string]any) error { return nil }
func (m *matrixTransformStage) Reset()                          {}

func (m *matrixTransformStage) ConfigSummary() map[string]any {
	return map[string]any{
		"numChannels":   m.numChannels,
		"numComponents": m.numComponents,
		"kind":          int(m.kind),
	}
}

// newMatrixTransformStage validates the shared construction rules of
// spec.md §4.12: mean.length == numChannels, matrix.length ==
// numChannels*numComponents stored column-major, numComponents <=
// numChannels required for PCA/CSP (ICA and whitening allow equality).
func newMatrixTransformStage(kind matrixTransformKind, params map[string]any) (Stage, error) {
	numChannels, err := requirePositiveInt(params, "numChannels")
	if err != nil {
		return nil, err
	}
	numComponents, err := requirePositiveInt(params, "numComponents")
	if err != nil {
		return nil, err
	}
	if (kind == matrixPCA || kind == matrixCSP) && numComponents > numChannels {
		return nil, &InvalidParameterError{Field: "numComponents", Reason: "must be <= numChannels for PCA/CSP"}
	}
	mean, ok := paramFloatSlice(params, "mean")
	if !ok || len(mean) != numChannels {
		return nil, &InvalidParameterError{Field: "mean", Reason: "length must equal numChannels"}
	}
	matrixFlat, ok := paramFloatSlice(params, "matrix")
	if !ok || len(matrixFlat) != numChannels*numComponents {
		return nil, &InvalidParameterError{Field: "matrix", Reason: "length must equal numChannels*numComponents"}
	}

	// Column-major storage of W (numComponents rows, numChannels cols):
	// W(p, c) sits at c*numComponents+p. Unpacked into a Dense so
	// ProcessResizing can do a plain MulVec.
	w := mat.NewDense(numComponents, numChannels, nil)
	for c := 0; c < numChannels; c++ {
		for p := 0; p < numComponents; p++ {
			w.Set(p, c, matrixFlat[c*numComponents+p])
		}
	}

	return &matrixTransformStage{
		kind: kind, numChannels: numChannels, numComponents: numComponents,
		mean: mean, w: w,
	}, nil
}

func init() {
	registerStage("pca", func(p map[string]any) (Stage, error) { return newMatrixTransformStage(matrixPCA, p) })
	registerStage("ica", func(p map[string]any) (Stage, error) { return newMatrixTransformStage(matrixICA, p) })
	registerStage("whitening", func(p map[string]any) (Stage, error) { return newMatrixTransformStage(matrixWhitening, p) })
	registerStage("csp", func(p map[string]any) (Stage, error) { return newMatrixTransformStage(matrixCSP, p) })
}
