package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	The Stage trait (spec.md §4.1): a sealed, tagged-variant
 *		dispatch surface replacing the "base class with many
 *		virtuals" pattern flagged in spec.md §9. Every concrete
 *		stage embeds stageBase for its defaults and overrides
 *		only what its behaviour actually needs - no hidden
 *		inheritance, no runtime vtable surprises.
 *
 *----------------------------------------------------------------*/

import "fmt"

// Stage is implemented by every algorithmic element a Pipeline can hold.
// Non-resizing stages implement Process; resizing stages implement
// ProcessResizing. Both methods exist on every Stage so the executor can
// dispatch uniformly, but only one is ever called for a given stage,
// selected by IsResizing().
type Stage interface {
	// Type returns the stable identifier used in checkpoints and logs,
	// e.g. "movingAverage", "lmsFilter", "fft".
	Type() string

	// IsResizing reports whether this stage changes the frame count or the
	// channel count.
	IsResizing() bool

	// TimeScaleFactor is the multiplier relating output duration to input
	// duration; meaningful only when IsResizing() is true.
	TimeScaleFactor() float64

	// CalculateOutputSize returns the output frame count for n input
	// frames; for non-resizing stages this is always n.
	CalculateOutputSize(n int) int

	// ExpectedChannels returns the channel count this stage requires, or
	// 0 if it accepts any positive channel count.
	ExpectedChannels() int

	// Process mutates buf in place. Only called for non-resizing stages.
	// ctx carries the per-call logging sink; it is never nil.
	Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error

	// ProcessResizing produces a new block from in. Only called for
	// resizing stages; outFrames == CalculateOutputSize(framesIn).
	ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (out SampleBlock, outTs Timestamps, err error)

	// SerializeState captures private per-channel state as a
	// self-describing record (spec.md §4.14).
	SerializeState() map[string]any

	// DeserializeState restores private state from a record produced by
	// SerializeState, after the caller has already validated structural
	// compatibility. Returns an error if the record's invariants don't
	// hold (e.g. a weight vector of the wrong length).
	DeserializeState(state map[string]any) error

	// Reset clears all per-channel state back to construction defaults.
	Reset()

	// ConfigSummary returns the stable configuration used for structural
	// matching on load and for list_state()'s lightweight description.
	ConfigSummary() map[string]any
}

// stageBase centralizes the common defaults (non-resizing, unit time
// scale, no channel requirement) so concrete stages only override what
// they need to.
type stageBase struct{}

func (stageBase) IsResizing() bool            { return false }
func (stageBase) TimeScaleFactor() float64    { return 1 }
func (stageBase) CalculateOutputSize(n int) int { return n }
func (stageBase) ExpectedChannels() int       { return 0 }

func (stageBase) ProcessResizing(ctx *StageContext, in SampleBlock, framesIn, channels int, ts Timestamps) (SampleBlock, Timestamps, error) {
	return nil, nil, fmt.Errorf("stage is not resizing")
}

func (stageBase) Process(ctx *StageContext, buf SampleBlock, frames, channels int, ts Timestamps) error {
	return fmt.Errorf("stage is resizing; Process is not applicable")
}

// StageContext carries per-call collaborators into a stage's Process /
// ProcessResizing method: currently just the log sink, kept as a struct
// (rather than passing a bare func) so it can grow (e.g. a shared numeric
// context) without changing the Stage interface again.
type StageContext struct {
	Log LogFunc
}

// LogFunc emits one structured log record under the given dotted topic.
// Passed down from the pipeline's observability substrate (observability.go).
type LogFunc func(topic string, level LogLevel, message string, kv map[string]any)

// noopLog is used whenever a stage is driven outside of a Pipeline (e.g.
// directly in a unit test) and no logging sink was supplied.
func noopLog(topic string, level LogLevel, message string, kv map[string]any) {}

// NewStandaloneContext returns a StageContext suitable for driving a Stage
// directly, outside of a Pipeline, discarding any log output.
func NewStandaloneContext() *StageContext {
	return &StageContext{Log: noopLog}
}

// checkFinite reports whether every value in vs is finite and no larger in
// magnitude than maxFinite (1e300), used by the
// adaptive-filter stages' divergence check (spec.md §4.7/§4.8).
func checkFinite(vs []float64) bool {
	for _, v := range vs {
		if v != v || v > maxFinite || v < -maxFinite {
			return false
		}
	}
	return true
}

const maxFinite = 1e300

// stageFactory constructs a Stage from a type name and a parameter record.
// Populated by init() in each stage_*.go file (mirrors the teacher's
// modem_type-keyed dispatch in demod_state.go, generalized to a Go map
// instead of a C enum switch).
var stageFactories = map[string]func(params map[string]any) (Stage, error){}

func registerStage(typeName string, factory func(params map[string]any) (Stage, error)) {
	stageFactories[typeName] = factory
}

// NewStage constructs a stage by its stable type name, validating
// parameters per the numeric-constraints table of spec.md §6.
func NewStage(typeName string, params map[string]any) (Stage, error) {
	factory, ok := stageFactories[typeName]
	if !ok {
		return nil, &InvalidParameterError{Field: "type", Reason: fmt.Sprintf("unknown stage type %q", typeName)}
	}
	return factory(params)
}
