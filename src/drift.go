package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Timestamp drift detector (spec.md §4.15): compares each
 *		consecutive inter-sample interval against the expected
 *		period for the configured sample rate and reports any
 *		sample whose relative drift exceeds the threshold.
 *
 *----------------------------------------------------------------*/

import "math"

type driftDetector struct {
	sampleRateHz  float64
	thresholdPct  float64
	havePrev      bool
	prevTimestamp float32
	sampleIndex   int
}

func newDriftDetector(sampleRateHz, thresholdPct float64) *driftDetector {
	return &driftDetector{sampleRateHz: sampleRateHz, thresholdPct: thresholdPct}
}

// scan walks every timestamp in ts, in order, reporting each sample whose
// inter-sample drift exceeds the threshold via emit. State (the previous
// timestamp and the running global sample index) persists across calls so
// a detector fed one block at a time reports the same events as one fed
// the whole concatenated stream.
func (d *driftDetector) scan(ts Timestamps, emit func(DriftEvent)) {
	if d.sampleRateHz <= 0 {
		return
	}
	expected := 1000.0 / d.sampleRateHz

	for _, t := range ts {
		if d.havePrev {
			delta := float64(t - d.prevTimestamp)
			relDrift := math.Abs(delta-expected) / expected
			if relDrift*100 > d.thresholdPct {
				emit(DriftEvent{
					PreviousTimestampMs: d.prevTimestamp,
					CurrentTimestampMs:  t,
					AbsoluteDriftMs:     float32(math.Abs(delta - expected)),
					RelativeDriftPct:    relDrift * 100,
					SampleIndex:         d.sampleIndex,
				})
			}
		}
		d.prevTimestamp = t
		d.havePrev = true
		d.sampleIndex++
	}
}

func (d *driftDetector) reset() {
	d.havePrev = false
	d.prevTimestamp = 0
	d.sampleIndex = 0
}
