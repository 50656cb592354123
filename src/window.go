package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	The sliding-window primitive shared by the moving
 *		statistic stages (moving average, RMS, variance, MAV,
 *		Z-score, linear regression, entropy, Hjorth, SNR). The
 *		waveform length, SSC and WAMP stages keep their own
 *		sample ring in stage_waveform.go.
 *
 * Modes:	batch			- one statistic over the whole block
 *		moving sample-based	- fixed window of W samples
 *		moving time-based	- window is "last D ms"
 *
 * Both moving modes maintain running sums of powers 1 and 2 so each
 * push/pop pair is an O(1) update, per spec.md §4.2.
 *
 *----------------------------------------------------------------*/

import "math"

// WindowMode selects how a stats-family stage accumulates its window.
type WindowMode int

const (
	WindowModeBatch WindowMode = iota
	WindowModeMovingSamples
	WindowModeMovingTime
)

// slidingWindow is the per-channel state shared by the moving-statistics
// family. It is intentionally ignorant of which statistic is being
// computed; callers read sum/sumSq and count() directly.
type slidingWindow struct {
	mode WindowMode

	// moving sample-based
	sampleCapacity int
	ring           []float64
	ringHead       int
	ringLen        int

	// moving time-based
	durationMs float64
	queueVal   []float64
	queueTs    []float64

	// previous-value slots, cleared by reset(); the WL/SSC/WAMP stages
	// keep their own history in stage_waveform.go and do not read these
	hasPrev  bool
	prevVal  float64
	prevPrev float64
	hasPrev2 bool

	sum   float64
	sumSq float64
}

func newSlidingWindowSamples(windowSize int) *slidingWindow {
	return &slidingWindow{
		mode:           WindowModeMovingSamples,
		sampleCapacity: windowSize,
		ring:           make([]float64, windowSize),
	}
}

func newSlidingWindowTime(durationMs float64) *slidingWindow {
	return &slidingWindow{
		mode:       WindowModeMovingTime,
		durationMs: durationMs,
	}
}

// push adds one sample (value, timestamp) to the window, evicting expired
// entries first, and keeps Sum/SumSq consistent with the window contents.
// It returns the number of elements currently in the window.
func (w *slidingWindow) push(value float64, timestampMs float64) int {
	switch w.mode {
	case WindowModeMovingSamples:
		if w.ringLen == w.sampleCapacity {
			oldest := w.ring[w.ringHead]
			w.sum -= oldest
			w.sumSq -= oldest * oldest
		} else {
			w.ringLen++
		}
		w.ring[w.ringHead] = value
		w.ringHead = (w.ringHead + 1) % w.sampleCapacity
		w.sum += value
		w.sumSq += value * value
		return w.ringLen

	case WindowModeMovingTime:
		cutoff := timestampMs - w.durationMs
		for len(w.queueTs) > 0 && w.queueTs[0] < cutoff {
			w.sum -= w.queueVal[0]
			w.sumSq -= w.queueVal[0] * w.queueVal[0]
			w.queueTs = w.queueTs[1:]
			w.queueVal = w.queueVal[1:]
		}
		w.queueTs = append(w.queueTs, timestampMs)
		w.queueVal = append(w.queueVal, value)
		w.sum += value
		w.sumSq += value * value
		return len(w.queueVal)

	default: // batch: caller accumulates separately
		return 0
	}
}

func (w *slidingWindow) count() int {
	switch w.mode {
	case WindowModeMovingSamples:
		return w.ringLen
	case WindowModeMovingTime:
		return len(w.queueVal)
	default:
		return 0
	}
}

func (w *slidingWindow) mean() float64 {
	n := w.count()
	if n == 0 {
		return 0
	}
	return w.sum / float64(n)
}

// variance returns the unbiased (n-1) sample variance, or 0 when n<2.
func (w *slidingWindow) variance() float64 {
	n := w.count()
	if n < 2 {
		return 0
	}
	fn := float64(n)
	mean := w.sum / fn
	v := (w.sumSq - fn*mean*mean) / (fn - 1)
	if v < 0 {
		v = 0 // guards against floating point cancellation
	}
	return v
}

func (w *slidingWindow) rms() float64 {
	n := w.count()
	if n == 0 {
		return 0
	}
	return math.Sqrt(w.sumSq / float64(n))
}

func (w *slidingWindow) mav() float64 {
	// Mean absolute value needs |x|, which the running sum doesn't carry;
	// the caller is expected to push |x| directly for MAV stages.
	return w.mean()
}

// runningSumConsistent re-derives Sum/SumSq from the current window
// contents and compares against the maintained running totals, within
// spec.md §8 property 6's tolerance (1e-4 * window size).
func (w *slidingWindow) runningSumConsistent() bool {
	n := w.count()
	if n == 0 {
		return true
	}
	var sum, sumSq float64
	switch w.mode {
	case WindowModeMovingSamples:
		idx := w.ringHead - w.ringLen
		for i := 0; i < w.ringLen; i++ {
			p := ((idx+i)%w.sampleCapacity + w.sampleCapacity) % w.sampleCapacity
			sum += w.ring[p]
			sumSq += w.ring[p] * w.ring[p]
		}
	case WindowModeMovingTime:
		for _, v := range w.queueVal {
			sum += v
			sumSq += v * v
		}
	}
	tol := 1e-4 * float64(n)
	return math.Abs(sum-w.sum) <= tol && math.Abs(sumSq-w.sumSq) <= tol*(1+math.Abs(w.sumSq))
}

// contents returns a copy of the values currently in the window, oldest
// first. Used by stages that need more than the running sums (linear
// regression, entropy, Hjorth).
func (w *slidingWindow) contents() []float64 {
	switch w.mode {
	case WindowModeMovingSamples:
		out := make([]float64, w.ringLen)
		start := w.ringHead - w.ringLen
		for i := 0; i < w.ringLen; i++ {
			p := ((start+i)%w.sampleCapacity + w.sampleCapacity) % w.sampleCapacity
			out[i] = w.ring[p]
		}
		return out
	case WindowModeMovingTime:
		out := make([]float64, len(w.queueVal))
		copy(out, w.queueVal)
		return out
	default:
		return nil
	}
}

func (w *slidingWindow) reset() {
	w.ring = make([]float64, w.sampleCapacity)
	w.ringHead = 0
	w.ringLen = 0
	w.queueVal = nil
	w.queueTs = nil
	w.sum = 0
	w.sumSq = 0
	w.hasPrev = false
	w.hasPrev2 = false
}

// batchStat computes a whole-block statistic in batch mode, per spec.md
// §4.2's batch mode definition.
type batchStat func(block []float64) float64

func batchMean(block []float64) float64 {
	if len(block) == 0 {
		return 0
	}
	return Sum(block) / float64(len(block))
}

func batchRMS(block []float64) float64 {
	if len(block) == 0 {
		return 0
	}
	return math.Sqrt(SumSquares(block) / float64(len(block)))
}

func batchVariance(block []float64) float64 {
	n := len(block)
	if n < 2 {
		return 0
	}
	mean := batchMean(block)
	var acc float64
	for _, v := range block {
		d := v - mean
		acc += d * d
	}
	return acc / float64(n-1)
}

func batchMAV(block []float64) float64 {
	if len(block) == 0 {
		return 0
	}
	var acc float64
	for _, v := range block {
		acc += math.Abs(v)
	}
	return acc / float64(len(block))
}
