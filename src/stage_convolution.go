package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Fixed-kernel convolution stage (spec.md §4.9), with
 *		automatic direct/FFT dispatch by kernel length. "moving"
 *		mode keeps the trailing M-1 samples of history across
 *		calls so that concatenated sub-blocks match a single
 *		large block bit-for-bit (spec.md's block-boundary
 *		invariance property); "batch" mode starts every call
 *		from a zero history tail.
 *
 *----------------------------------------------------------------*/

type convolutionMethod int

const (
	convAuto convolutionMethod = iota
	convDirect
	convFFT
)

// defaultAutoThreshold is the kernel length under which "auto" picks the
// direct-form convolution over the overlap-save FFT form (spec.md §4.9,
// §9 Open Questions: "64 stated in docs").
const defaultAutoThreshold = 64

type convolutionStage struct {
	stageBase
	kernel        []float64
	method        convolutionMethod
	autoThreshold int
	moving        bool

	// tail holds, per channel, the last len(kernel)-1 input samples carried
	// across calls in moving mode.
	tails [][]float64
}

func (c *convolutionStage) Type() string { return "convolution" }

func (c *convolutionStage) ensureChannels(channels int) {
	if len(c.tails) == channels {
		return
	}
	c.tails = make([][]float64, channels)
	for i := range c.tails {
		c.tails[i] = make([]float64, len(c.kernel)-1)
	}
}

func (c *convolutionStage) useDirect() bool {
	switch c.method {
	case convDirect:
		return true
	case convFFT:
		return false
	default:
		return len(c.kernel) < c.autoThreshold
	}
}

// convolveCausal computes the causal convolution y[n] = sum_k h[k]*x[n-k]
// over the concatenation tail++x, returning len(x) output samples and the
// new tail (last len(kernel)-1 samples of tail++x).
func convolveCausal(tail, x, kernel []float64, direct bool) (out, newTail []float64) {
	m := len(kernel)
	full := make([]float64, m-1+len(x))
	copy(full, tail)
	copy(full[m-1:], x)

	out = make([]float64, len(x))
	if direct {
		for n := 0; n < len(x); n++ {
			idx := n + m - 1
			var acc float64
			for k := 0; k < m; k++ {
				acc += kernel[k] * full[idx-k]
			}
			out[n] = acc
		}
	} else {
		out = overlapSaveConvolve(full, kernel, m-1, len(x))
	}

	newTail = make([]float64, m-1)
	copy(newTail, full[len(full)-(m-1):])
	return out, newTail
}

// overlapSaveConvolve performs FFT-based overlap-save convolution of
// full (history-prefixed input) against kernel, returning the skipCount
// leading samples discarded and wantCount valid causal outputs starting
// right after the history prefix (spec.md §4.9's segment scheme).
func overlapSaveConvolve(full, kernel []float64, skipCount, wantCount int) []float64 {
	m := len(kernel)
	segLen := nextPowerOfTwo(maxInt(m, wantCount))
	validPerSeg := segLen - m + 1
	if validPerSeg <= 0 {
		validPerSeg = 1
	}

	kernelPadded := make([]complex128, segLen)
	for i, v := range kernel {
		kernelPadded[i] = complex(v, 0)
	}
	kernelFreq := FFTComplex(kernelPadded, true)

	out := make([]float64, 0, wantCount)
	// We need segLen-m+1 fresh samples per segment, but the first m-1
	// samples of each segment must be the trailing history (either the
	// original prefix or the tail of the previous segment).
	pos := skipCount - (m - 1)
	produced := 0
	for produced < wantCount {
		seg := make([]complex128, segLen)
		for i := 0; i < segLen; i++ {
			srcIdx := pos + i
			if srcIdx >= 0 && srcIdx < len(full) {
				seg[i] = complex(full[srcIdx], 0)
			}
		}
		segFreq := FFTComplex(seg, true)
		for i := range segFreq {
			segFreq[i] *= kernelFreq[i]
		}
		conv := FFTComplex(segFreq, false)

		for i := m - 1; i < segLen && produced < wantCount; i++ {
			out = append(out, real(conv[i]))
			produced++
		}
		pos += validPerSeg
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *convolutionStage) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	c.ensureChannels(channels)
	direct := c.useDirect()

	for ch := 0; ch < channels; ch++ {
		x := make([]float64, frames)
		for f := 0; f < frames; f++ {
			x[f] = float64(buf[f*channels+ch])
		}

		tail := c.tails[ch]
		if !c.moving {
			tail = make([]float64, len(c.kernel)-1)
		}
		out, newTail := convolveCausal(tail, x, c.kernel, direct)
		if c.moving {
			c.tails[ch] = newTail
		}

		for f := 0; f < frames; f++ {
			buf[f*channels+ch] = float32(out[f])
		}
	}
	return nil
}

func (c *convolutionStage) SerializeState() map[string]any {
	tails := make([]any, len(c.tails))
	for i, t := range c.tails {
		tails[i] = map[string]any{"tail": append([]float64(nil), t...)}
	}
	return map[string]any{"tails": tails}
}

func (c *convolutionStage) DeserializeState(state map[string]any) error {
	raw := toAnySlice(state["tails"])
	tails := make([][]float64, len(raw))
	for i, rc := range raw {
		m, ok := toStringMap(rc)
		if !ok {
			return &StateFormatMismatchError{Field: "tails", Reason: "expected per-channel tail document"}
		}
		tail, ok := paramFloatSlice(m, "tail")
		if !ok || len(tail) != len(c.kernel)-1 {
			return &StateFormatMismatchError{Field: "tail", Reason: "length must equal len(kernel)-1"}
		}
		tails[i] = tail
	}
	c.tails = tails
	return nil
}

func (c *convolutionStage) Reset() {
	for i := range c.tails {
		c.tails[i] = make([]float64, len(c.kernel)-1)
	}
}

func (c *convolutionStage) ConfigSummary() map[string]any {
	return map[string]any{"kernelLength": len(c.kernel), "method": int(c.method), "moving": c.moving}
}

func init() {
	registerStage("convolution", func(p map[string]any) (Stage, error) {
		kernel, ok := paramFloatSlice(p, "kernel")
		if !ok || len(kernel) == 0 {
			return nil, &InvalidParameterError{Field: "kernel", Reason: "must be non-empty"}
		}
		s := &convolutionStage{kernel: kernel, autoThreshold: defaultAutoThreshold, moving: true}
		switch paramString(p, "method", "auto") {
		case "auto":
			s.method = convAuto
		case "direct":
			s.method = convDirect
		case "fft":
			s.method = convFFT
		default:
			return nil, &InvalidParameterError{Field: "method", Reason: `must be one of "auto","direct","fft"`}
		}
		if at, ok := paramInt(p, "autoThreshold", defaultAutoThreshold); ok {
			s.autoThreshold = at
		}
		if mode := paramString(p, "mode", "moving"); mode == "batch" {
			s.moving = false
		}
		return s, nil
	})
}
