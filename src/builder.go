package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	The fluent pipeline builder (spec.md §4's "Fluent
 *		builder" component): validates each stage's parameters
 *		as it is added, accumulating the first error encountered
 *		so a chain of AddStage calls can be written without
 *		checking an error after every link, and surfaces it only
 *		at Build().
 *
 *----------------------------------------------------------------*/

// Builder assembles a Pipeline one stage at a time.
type Builder struct {
	pipeline *Pipeline
	err      error
}

// NewBuilder starts a fluent construction chain for a pipeline named
// name, wired to the given observability configuration.
func NewBuilder(name string, cfg ObservabilityConfig) *Builder {
	return &Builder{pipeline: NewPipeline(name, cfg)}
}

// AddStage validates and appends one stage. If an earlier call in the
// chain already failed, this is a no-op so the first error wins.
func (b *Builder) AddStage(typeName string, params map[string]any) *Builder {
	if b.err != nil {
		return b
	}
	if err := b.pipeline.AddStage(typeName, params); err != nil {
		b.err = err
	}
	return b
}

// WithDrift enables the drift detector on the pipeline under construction.
func (b *Builder) WithDrift(sampleRateHz, thresholdPct float64) *Builder {
	if b.err != nil {
		return b
	}
	if sampleRateHz <= 0 {
		b.err = &InvalidParameterError{Field: "sampleRateHz", Reason: "must be > 0"}
		return b
	}
	if thresholdPct <= 0 {
		b.err = &InvalidParameterError{Field: "thresholdPct", Reason: "must be > 0"}
		return b
	}
	b.pipeline.EnableDrift(sampleRateHz, thresholdPct)
	return b
}

// Build returns the assembled pipeline, or the first construction error
// encountered along the chain.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.pipeline, nil
}
