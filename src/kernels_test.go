package dspflow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approxComplex(t *testing.T, want, got []complex128, tol float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.InDelta(t, real(want[i]), real(got[i]), tol, "real part at %d", i)
		assert.InDelta(t, imag(want[i]), imag(got[i]), tol, "imag part at %d", i)
	}
}

func TestFFTRoundTrip(t *testing.T) {
	data := make([]complex128, 16)
	for i := range data {
		data[i] = complex(math.Sin(float64(i)*0.3), 0)
	}
	fwd := FFTComplex(data, true)
	back := FFTComplex(fwd, false)
	approxComplex(t, data, back, 1e-9)
}

func TestFFTAgreesWithDFTOnPowerOfTwoSize(t *testing.T) {
	data := make([]complex128, 8)
	for i := range data {
		data[i] = complex(float64(i)-3.5, float64(i%3))
	}
	fromFFT := FFTComplex(data, true)
	fromDFT := DFTComplex(data, true)
	approxComplex(t, fromDFT, fromFFT, 1e-9)
}

func TestDFTHandlesNonPowerOfTwoSize(t *testing.T) {
	data := make([]complex128, 6)
	for i := range data {
		data[i] = complex(float64(i), 0)
	}
	fwd := DFTComplex(data, true)
	back := DFTComplex(fwd, false)
	approxComplex(t, data, back, 1e-9)
}

func TestRFFTIRFFTRoundTrip(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 0}
	bins := RFFT(samples)
	require.Len(t, bins, len(samples)/2+1)
	back := IRFFT(bins, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], back[i], 1e-9)
	}
}

func TestMagnitudePowerPhaseConsistent(t *testing.T) {
	bins := []complex128{complex(3, 4), complex(0, 1), complex(-2, 0)}
	mag := Magnitude(bins)
	pow := Power(bins)
	assert.InDelta(t, 5.0, mag[0], 1e-9)
	assert.InDelta(t, 25.0, pow[0], 1e-9)
	assert.InDelta(t, mag[1]*mag[1], pow[1], 1e-9)
	phase := Phase(bins)
	assert.InDelta(t, math.Pi/2, phase[1], 1e-9)
}

func TestDetrendConstantRemovesMean(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}
	out := Detrend(data, DetrendConstant)
	assert.InDelta(t, 0, Sum(out), 1e-9)
}

func TestDetrendLinearRemovesTrendExactly(t *testing.T) {
	data := make([]float64, 10)
	for i := range data {
		data[i] = 2.0 + 3.0*float64(i)
	}
	out := Detrend(data, DetrendLinear)
	for _, v := range out {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestAutocorrelationPeaksAtZeroLag(t *testing.T) {
	data := []float64{1, 0.5, -0.3, 0.8, -0.1}
	ac := Autocorrelation(data)
	for lag := 1; lag < len(ac); lag++ {
		assert.LessOrEqual(t, ac[lag], ac[0]+1e-9)
	}
}

func TestSumAndSumSquares(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	assert.Equal(t, 10.0, Sum(data))
	assert.Equal(t, 30.0, SumSquares(data))
	assert.Equal(t, 1*1.0+2*2.0+3*3.0+4*4.0, Dot(data, data))
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 4, 5: 8, 8: 8, 9: 16, 1000: 1024}
	for in, want := range cases {
		assert.Equal(t, want, nextPowerOfTwo(in), "nextPowerOfTwo(%d)", in)
	}
}
