package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Typed error values for construction, processing and
 *		state-load failures (spec.md §7). Nothing in this
 *		package panics for an expected failure path; panics
 *		are reserved for programmer errors (e.g. a negative
 *		channel count reaching code that already validated
 *		it couldn't happen).
 *
 *----------------------------------------------------------------*/

import "fmt"

// InvalidParameterError is returned by add_stage/the builder when a stage
// parameter fails construction-time validation.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

// ChannelMismatchError is returned at process() entry when the supplied
// channel count disagrees with a stage's recorded expectation.
type ChannelMismatchError struct {
	Expected int
	Got      int
}

func (e *ChannelMismatchError) Error() string {
	return fmt.Sprintf("channel mismatch: expected %d, got %d", e.Expected, e.Got)
}

// StateFormatMismatchError is returned by load_state when a checkpoint's
// schema, stage sequence or critical per-stage configuration disagrees
// with the target pipeline.
type StateFormatMismatchError struct {
	Field  string
	Reason string
}

func (e *StateFormatMismatchError) Error() string {
	return fmt.Sprintf("state format mismatch in %q: %s", e.Field, e.Reason)
}

// NumericalDivergenceError documents a recoverable stage-level failure:
// the stage has already reset itself by the time this is logged.
type NumericalDivergenceError struct {
	Stage  string
	Detail string
}

func (e *NumericalDivergenceError) Error() string {
	return fmt.Sprintf("numerical divergence in stage %q: %s", e.Stage, e.Detail)
}

// CallbackFailureError wraps a panic or error raised by a user callback;
// it is logged, never surfaced to the caller of process().
type CallbackFailureError struct {
	Topic  string
	Detail string
}

func (e *CallbackFailureError) Error() string {
	return fmt.Sprintf("callback failure on topic %q: %s", e.Topic, e.Detail)
}

// KernelFailureError surfaces an inconsistency in a numeric kernel, e.g.
// an FFT size that doesn't match the configured stage.
type KernelFailureError struct {
	Detail string
}

func (e *KernelFailureError) Error() string {
	return fmt.Sprintf("kernel failure: %s", e.Detail)
}
