package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	FFT, STFT, wavelet and Hilbert-envelope stages (spec.md
 *		§4.11). All four are resizing, batch stages built
 *		directly on the numeric kernels in kernels.go; the only
 *		state any of them carry across calls is the STFT's and
 *		Hilbert envelope's per-channel overlap buffer.
 *
 *----------------------------------------------------------------*/

import "math"

// ---- FFT stage ------------------------------------------------------

type spectralKind int

const (
	spectralFFT spectralKind = iota
	spectralDFT
	spectralRFFT
	spectralRDFT
)

type spectralOutput int

const (
	outputComplex spectralOutput = iota
	outputMagnitude
	outputPower
	outputPhase
)

type fftStage struct {
	stageBase
	size    int
	kind    spectralKind
	forward bool
	output  spectralOutput
}

func (f *fftStage) Type() string    { return "fft" }
func (f *fftStage) IsResizing() bool { return true }

func (f *fftStage) binCount() int {
	switch f.kind {
	case spectralRFFT, spectralRDFT:
		return f.size/2 + 1
	default:
		return f.size
	}
}

func (f *fftStage) outputWidth() int {
	if f.output == outputComplex {
		return f.binCount() * 2
	}
	return f.binCount()
}

func (f *fftStage) TimeScaleFactor() float64 { return float64(f.outputWidth()) / float64(f.size) }

func (f *fftStage) CalculateOutputSize(n int) int {
	blocks := n / f.size
	return blocks * f.outputWidth()
}

func (f *fftStage) ExpectedChannels() int { return 1 }

func (f *fftStage) transform(samples []float64) []complex128 {
	switch f.kind {
	case spectralFFT:
		data := make([]complex128, f.size)
		for i, v := range samples {
			data[i] = complex(v, 0)
		}
		return FFTComplex(data, f.forward)
	case spectralDFT:
		data := make([]complex128, f.size)
		for i, v := range samples {
			data[i] = complex(v, 0)
		}
		return DFTComplex(data, f.forward)
	case spectralRFFT:
		return RFFT(samples)
	default:
		return RDFT(samples)
	}
}

func (f *fftStage) writeOutput(out []float32, offset int, bins []complex128) {
	switch f.output {
	case outputComplex:
		for i, b := range bins {
			out[offset+2*i] = float32(real(b))
			out[offset+2*i+1] = float32(imag(b))
		}
	case outputMagnitude:
		for i, v := range Magnitude(bins) {
			out[offset+i] = float32(v)
		}
	case outputPower:
		for i, v := range Power(bins) {
			out[offset+i] = float32(v)
		}
	case outputPhase:
		for i, v := range Phase(bins) {
			out[offset+i] = float32(v)
		}
	}
}

func (f *fftStage) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	if channels != 1 {
		return nil, nil, &ChannelMismatchError{Expected: 1, Got: channels}
	}
	numBlocks := framesIn / f.size
	outW := f.outputWidth()
	out := make(SampleBlock, numBlocks*outW)

	for b := 0; b < numBlocks; b++ {
		samples := make([]float64, f.size)
		for i := 0; i < f.size; i++ {
			samples[i] = float64(in[b*f.size+i])
		}
		bins := f.transform(samples)
		f.writeOutput(out, b*outW, bins)
	}
	outTs := scaleTimestamps(ts, numBlocks*outW, f.TimeScaleFactor())
	return out, outTs, nil
}

func (f *fftStage) SerializeState() map[string]any   { return map[string]any{} }
func (f *fftStage) DeserializeState(map[string]any) error { return nil }
func (f *fftStage) Reset()                           {}
func (f *fftStage) ConfigSummary() map[string]any {
	return map[string]any{"size": f.size, "kind": int(f.kind), "forward": f.forward, "output": int(f.output)}
}

func init() {
	registerStage("fft", func(p map[string]any) (Stage, error) {
		size, err := requirePositiveInt(p, "size")
		if err != nil {
			return nil, err
		}
		s := &fftStage{size: size, forward: true}
		switch paramString(p, "type", "fft") {
		case "fft":
			s.kind = spectralFFT
		case "dft":
			s.kind = spectralDFT
		case "rfft":
			s.kind = spectralRFFT
		case "rdft":
			s.kind = spectralRDFT
		default:
			return nil, &InvalidParameterError{Field: "type", Reason: `must be one of "fft","dft","rfft","rdft"`}
		}
		if (s.kind == spectralFFT || s.kind == spectralRFFT) && !isPowerOfTwo(size) {
			return nil, &InvalidParameterError{Field: "size", Reason: "must be a power of 2 for fft/rfft"}
		}
		s.forward = paramBool(p, "forward", true)
		switch paramString(p, "output", "complex") {
		case "complex":
			s.output = outputComplex
		case "magnitude":
			s.output = outputMagnitude
		case "power":
			s.output = outputPower
		case "phase":
			s.output = outputPhase
		default:
			return nil, &InvalidParameterError{Field: "output", Reason: `must be one of "complex","magnitude","power","phase"`}
		}
		return s, nil
	})
}

// ---- STFT stage -------------------------------------------------------

type stftStage struct {
	stageBase
	windowSize int
	hopSize    int
	window     WindowShape
	forward    bool
	output     spectralOutput
	useFFT     bool

	overlap [][]float64 // per-channel carry-over tail
}

func (s *stftStage) Type() string     { return "stft" }
func (s *stftStage) IsResizing() bool { return true }

func (s *stftStage) binCount() int { return s.windowSize/2 + 1 }
func (s *stftStage) rowWidth() int {
	if s.output == outputComplex {
		return s.binCount() * 2
	}
	return s.binCount()
}

func (s *stftStage) numWindows(buffered, n int) int {
	total := buffered + n
	if total < s.windowSize {
		return 0
	}
	return (total-s.windowSize)/s.hopSize + 1
}

func (s *stftStage) TimeScaleFactor() float64 {
	return float64(s.rowWidth()) / float64(s.hopSize)
}

// CalculateOutputSize reports the exact frame count (windows x row width)
// ProcessResizing will emit for framesIn=n given the stage's current carried overlap (0 for a
// fresh stage); the windowing phase shifts how many complete windows n
// more samples complete, so this must track the real buffered length,
// not assume a fresh stage.
func (s *stftStage) CalculateOutputSize(n int) int {
	buffered := 0
	if len(s.overlap) > 0 {
		buffered = len(s.overlap[0])
	}
	return s.numWindows(buffered, n) * s.rowWidth()
}

func (s *stftStage) ExpectedChannels() int { return 0 }

func (s *stftStage) ensureChannels(channels int) {
	if len(s.overlap) == channels {
		return
	}
	s.overlap = make([][]float64, channels)
	for i := range s.overlap {
		s.overlap[i] = make([]float64, 0, s.windowSize)
	}
}

func (s *stftStage) transformWindow(frame []float64) []complex128 {
	windowed := applyWindow(frame, s.window)
	if s.useFFT {
		return RFFT(windowed)
	}
	return RDFT(windowed)
}

func (s *stftStage) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	s.ensureChannels(channels)
	rowW := s.rowWidth()

	// numWindows must be identical across channels since frame counts are
	// shared; compute once against channel 0's buffered length.
	buffered := len(s.overlap[0])
	nW := s.numWindows(buffered, framesIn)
	out := make(SampleBlock, nW*rowW*channels)

	for ch := 0; ch < channels; ch++ {
		x := make([]float64, framesIn)
		for f := 0; f < framesIn; f++ {
			x[f] = float64(in[f*channels+ch])
		}
		ext := append(append([]float64(nil), s.overlap[ch]...), x...)

		for w := 0; w < nW; w++ {
			start := w * s.hopSize
			frame := ext[start : start+s.windowSize]
			bins := s.transformWindow(frame)
			rowOffset := (w*channels + ch) * rowW
			writeSpectralOutput(out, rowOffset, bins, s.output)
		}

		// Carry everything from the next window's start on, including
		// the part that overlaps the last emitted window.
		consumed := nW * s.hopSize
		remain := ext[consumed:]
		tail := remain
		if len(tail) > s.windowSize {
			tail = tail[len(tail)-s.windowSize:]
		}
		s.overlap[ch] = append([]float64(nil), tail...)
	}

	outTs := scaleTimestamps(ts, nW*rowW, s.TimeScaleFactor())
	return out, outTs, nil
}

func writeSpectralOutput(out []float32, offset int, bins []complex128, output spectralOutput) {
	switch output {
	case outputComplex:
		for i, b := range bins {
			out[offset+2*i] = float32(real(b))
			out[offset+2*i+1] = float32(imag(b))
		}
	case outputMagnitude:
		for i, v := range Magnitude(bins) {
			out[offset+i] = float32(v)
		}
	case outputPower:
		for i, v := range Power(bins) {
			out[offset+i] = float32(v)
		}
	case outputPhase:
		for i, v := range Phase(bins) {
			out[offset+i] = float32(v)
		}
	}
}

func (s *stftStage) SerializeState() map[string]any {
	chans := make([]any, len(s.overlap))
	for i, ov := range s.overlap {
		chans[i] = map[string]any{"overlap": append([]float64(nil), ov...)}
	}
	return map[string]any{"channels": chans}
}

func (s *stftStage) DeserializeState(state map[string]any) error {
	raw := toAnySlice(state["channels"])
	restored := make([][]float64, len(raw))
	for i, rc := range raw {
		m, ok := toStringMap(rc)
		if !ok {
			return &StateFormatMismatchError{Field: "channels", Reason: "expected per-channel document"}
		}
		ov, _ := paramFloatSlice(m, "overlap")
		if len(ov) >= s.windowSize {
			return &StateFormatMismatchError{Field: "overlap", Reason: "must be shorter than windowSize"}
		}
		restored[i] = ov
	}
	s.overlap = restored
	return nil
}

func (s *stftStage) Reset() {
	for i := range s.overlap {
		s.overlap[i] = s.overlap[i][:0]
	}
}

func (s *stftStage) ConfigSummary() map[string]any {
	return map[string]any{"windowSize": s.windowSize, "hopSize": s.hopSize, "window": int(s.window)}
}

func init() {
	registerStage("stft", func(p map[string]any) (Stage, error) {
		windowSize, err := requirePositiveInt(p, "windowSize")
		if err != nil {
			return nil, err
		}
		s := &stftStage{windowSize: windowSize, forward: true}
		method := paramString(p, "method", "auto")
		s.useFFT = isPowerOfTwo(windowSize) && method != "dft"
		hop, ok := paramInt(p, "hopSize", windowSize/2)
		if !ok {
			hop = windowSize / 2
		}
		if hop <= 0 || hop > windowSize {
			return nil, &InvalidParameterError{Field: "hopSize", Reason: "must be in (0, windowSize]"}
		}
		s.hopSize = hop
		if method == "fft" && !isPowerOfTwo(windowSize) {
			return nil, &InvalidParameterError{Field: "windowSize", Reason: "must be a power of 2 when method=fft"}
		}
		switch paramString(p, "window", "hann") {
		case "none":
			s.window = WindowNone
		case "hann":
			s.window = WindowHann
		case "hamming":
			s.window = WindowHamming
		case "blackman":
			s.window = WindowBlackman
		case "bartlett":
			s.window = WindowBartlett
		default:
			return nil, &InvalidParameterError{Field: "window", Reason: "unknown window shape"}
		}
		switch paramString(p, "output", "magnitude") {
		case "complex":
			s.output = outputComplex
		case "magnitude":
			s.output = outputMagnitude
		case "power":
			s.output = outputPower
		case "phase":
			s.output = outputPhase
		default:
			return nil, &InvalidParameterError{Field: "output", Reason: `must be one of "complex","magnitude","power","phase"`}
		}
		return s, nil
	})
}

// ---- Wavelet transform ------------------------------------------------

// waveletFilters returns the (lowpass, highpass) decomposition filter pair
// for the named wavelet. db1 is identical to haar; db2 and db4 use their
// standard Daubechies coefficients. db3 and db5..db10 have no table of
// their own and reuse the 8-tap db4 pair unchanged (an Open Question
// resolution in DESIGN.md). Any other name is rejected (ok == false).
func waveletFilters(name string) (lo, hi []float64, ok bool) {
	haar := []float64{1 / math.Sqrt2, 1 / math.Sqrt2}
	db2 := []float64{
		0.48296291314453416, 0.836516303737469,
		0.22414386804185735, -0.12940952255092145,
	}
	db4 := []float64{
		0.23037781330885523, 0.7148465705525415, 0.6308807679295904,
		-0.02798376941698385, -0.18703481171888114, 0.030841381835986965,
		0.032883011666982945, -0.010597401784997278,
	}
	var coeffs []float64
	switch name {
	case "haar", "db1":
		coeffs = haar
	case "db2":
		coeffs = db2
	case "db3", "db4", "db5", "db6", "db7", "db8", "db9", "db10":
		coeffs = db4
	default:
		return nil, nil, false
	}
	lo = append([]float64(nil), coeffs...)
	hi = make([]float64, len(coeffs))
	for i, c := range coeffs {
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		hi[len(coeffs)-1-i] = sign * c
	}
	return lo, hi, true
}

type waveletStage struct {
	stageBase
	name   string
	lo, hi []float64
}

func (w *waveletStage) Type() string     { return "wavelet" }
func (w *waveletStage) IsResizing() bool { return true }

func (w *waveletStage) paddedLen(n int) int {
	if n%2 != 0 {
		n++
	}
	return n
}

func (w *waveletStage) TimeScaleFactor() float64 { return 1 }

func (w *waveletStage) CalculateOutputSize(n int) int { return w.paddedLen(n) }

func (w *waveletStage) ExpectedChannels() int { return 0 }

// dwtOneLevel convolves padded (even-length, zero-padded) data with filter
// f and downsamples by 2, "same"-style centered at each even tap boundary.
func dwtOneLevel(data, f []float64) []float64 {
	n := len(data)
	half := n / 2
	out := make([]float64, half)
	m := len(f)
	for i := 0; i < half; i++ {
		var acc float64
		for k := 0; k < m; k++ {
			idx := 2*i + 1 - k
			if idx >= 0 && idx < n {
				acc += f[k] * data[idx]
			}
		}
		out[i] = acc
	}
	return out
}

func (w *waveletStage) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	padded := w.paddedLen(framesIn)
	out := make(SampleBlock, padded*channels)

	for ch := 0; ch < channels; ch++ {
		data := make([]float64, padded)
		for f := 0; f < framesIn; f++ {
			data[f] = float64(in[f*channels+ch])
		}
		approx := dwtOneLevel(data, w.lo)
		detail := dwtOneLevel(data, w.hi)
		for i, v := range approx {
			out[i*channels+ch] = float32(v)
		}
		off := len(approx)
		for i, v := range detail {
			out[(off+i)*channels+ch] = float32(v)
		}
	}
	outTs := scaleTimestamps(ts, padded, 1)
	return out, outTs, nil
}

func (w *waveletStage) SerializeState() map[string]any      { return map[string]any{} }
func (w *waveletStage) DeserializeState(map[string]any) error { return nil }
func (w *waveletStage) Reset()                                {}
func (w *waveletStage) ConfigSummary() map[string]any {
	return map[string]any{"wavelet": w.name}
}

func init() {
	registerStage("wavelet", func(p map[string]any) (Stage, error) {
		name := paramString(p, "wavelet", "haar")
		lo, hi, ok := waveletFilters(name)
		if !ok {
			return nil, &InvalidParameterError{Field: "wavelet", Reason: "unknown wavelet name"}
		}
		return &waveletStage{name: name, lo: lo, hi: hi}, nil
	})
}

// ---- Hilbert envelope --------------------------------------------------

type hilbertStage struct {
	stageBase
	windowSize int
	hopSize    int

	overlap [][]float64
}

func (h *hilbertStage) Type() string     { return "hilbertEnvelope" }
func (h *hilbertStage) IsResizing() bool { return true }

func (h *hilbertStage) numWindows(buffered, n int) int {
	total := buffered + n
	if total < h.windowSize {
		return 0
	}
	return (total-h.windowSize)/h.hopSize + 1
}

func (h *hilbertStage) TimeScaleFactor() float64 {
	return float64(h.windowSize) / float64(h.hopSize)
}

// CalculateOutputSize reports the exact sample count ProcessResizing
// will emit for framesIn=n given the stage's current carried overlap (0
// for a fresh stage); see stftStage.CalculateOutputSize for why this
// must track the real buffered length rather than assume a fresh stage.
func (h *hilbertStage) CalculateOutputSize(n int) int {
	buffered := 0
	if len(h.overlap) > 0 {
		buffered = len(h.overlap[0])
	}
	return h.numWindows(buffered, n) * h.windowSize
}

func (h *hilbertStage) ensureChannels(channels int) {
	if len(h.overlap) == channels {
		return
	}
	h.overlap = make([][]float64, channels)
	for i := range h.overlap {
		h.overlap[i] = make([]float64, 0, h.windowSize)
	}
}

// analyticEnvelope computes the magnitude of the analytic signal of frame
// via the FFT-based Hilbert transform (the direct DFT when len(frame) is
// not a power of two): zero the negative frequencies, double the positive
// ones, leave DC and Nyquist alone, inverse transform.
func analyticEnvelope(frame []float64) []float64 {
	n := len(frame)
	transform := FFTComplex
	if !isPowerOfTwo(n) {
		transform = DFTComplex
	}
	data := make([]complex128, n)
	for i, v := range frame {
		data[i] = complex(v, 0)
	}
	spectrum := transform(data, true)
	half := n / 2
	for k := 1; k < half; k++ {
		spectrum[k] *= 2
	}
	for k := half + 1; k < n; k++ {
		spectrum[k] = 0
	}
	analytic := transform(spectrum, false)
	env := make([]float64, n)
	for i, c := range analytic {
		env[i] = math.Hypot(real(c), imag(c))
	}
	return env
}

func (h *hilbertStage) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	h.ensureChannels(channels)
	buffered := len(h.overlap[0])
	nW := h.numWindows(buffered, framesIn)
	out := make(SampleBlock, nW*h.windowSize*channels)

	for ch := 0; ch < channels; ch++ {
		x := make([]float64, framesIn)
		for f := 0; f < framesIn; f++ {
			x[f] = float64(in[f*channels+ch])
		}
		ext := append(append([]float64(nil), h.overlap[ch]...), x...)

		for w := 0; w < nW; w++ {
			start := w * h.hopSize
			frame := ext[start : start+h.windowSize]
			env := analyticEnvelope(frame)
			for i, v := range env {
				out[(w*h.windowSize+i)*channels+ch] = float32(v)
			}
		}

		// Carry everything from the next window's start on, including
		// the part that overlaps the last emitted window.
		consumed := nW * h.hopSize
		tail := ext[consumed:]
		if len(tail) > h.windowSize {
			tail = tail[len(tail)-h.windowSize:]
		}
		h.overlap[ch] = append([]float64(nil), tail...)
	}
	outTs := scaleTimestamps(ts, nW*h.windowSize, h.TimeScaleFactor())
	return out, outTs, nil
}

func (h *hilbertStage) SerializeState() map[string]any {
	chans := make([]any, len(h.overlap))
	for i, ov := range h.overlap {
		chans[i] = map[string]any{"overlap": append([]float64(nil), ov...)}
	}
	return map[string]any{"channels": chans}
}

func (h *hilbertStage) DeserializeState(state map[string]any) error {
	raw := toAnySlice(state["channels"])
	restored := make([][]float64, len(raw))
	for i, rc := range raw {
		m, ok := toStringMap(rc)
		if !ok {
			return &StateFormatMismatchError{Field: "channels", Reason: "expected per-channel document"}
		}
		ov, _ := paramFloatSlice(m, "overlap")
		if len(ov) >= h.windowSize {
			return &StateFormatMismatchError{Field: "overlap", Reason: "must be shorter than windowSize"}
		}
		restored[i] = ov
	}
	h.overlap = restored
	return nil
}

func (h *hilbertStage) Reset() {
	for i := range h.overlap {
		h.overlap[i] = h.overlap[i][:0]
	}
}

func (h *hilbertStage) ConfigSummary() map[string]any {
	return map[string]any{"windowSize": h.windowSize, "hopSize": h.hopSize}
}

func init() {
	registerStage("hilbertEnvelope", func(p map[string]any) (Stage, error) {
		windowSize, err := requirePositiveInt(p, "windowSize")
		if err != nil {
			return nil, err
		}
		hop, ok := paramInt(p, "hopSize", windowSize/2)
		if !ok {
			hop = windowSize / 2
		}
		if hop <= 0 || hop > windowSize {
			return nil, &InvalidParameterError{Field: "hopSize", Reason: "must be in (0, windowSize]"}
		}
		return &hilbertStage{windowSize: windowSize, hopSize: hop}, nil
	})
}
