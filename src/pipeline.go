package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	The pipeline executor (spec.md §4.1): owns an ordered
 *		stage sequence, drives one block through every stage per
 *		Process call, and wires the observability substrate, the
 *		drift detector and the checkpoint codec around that loop.
 *
 *----------------------------------------------------------------*/

import (
	"time"
)

// Pipeline is the top-level object a caller builds with NewPipeline/
// AddStage (or the fluent Builder in builder.go) and drives with Process.
type Pipeline struct {
	name               string
	stages             []Stage
	stageTypes         []string
	expectedChannels   int
	obs                *observer
	drift              *driftDetector
	lastStageDurations map[string]float64
}

// NewPipeline constructs an empty pipeline with the given observability
// configuration. name is used only for logging/on_stage_complete and may
// be empty.
func NewPipeline(name string, cfg ObservabilityConfig) *Pipeline {
	return &Pipeline{
		name:               name,
		obs:                newObserver(cfg),
		lastStageDurations: map[string]float64{},
	}
}

// AddStage constructs a stage from its stable type name and parameter
// record, via the factory each stage_*.go file registers from init(), and
// appends it. Validation of the parameters themselves happens inside the
// factory (spec.md §4.1: "input validation is done by the builder layer").
func (p *Pipeline) AddStage(typeName string, params map[string]any) error {
	s, err := NewStage(typeName, params)
	if err != nil {
		return err
	}
	p.stages = append(p.stages, s)
	p.stageTypes = append(p.stageTypes, typeName)
	if ec := s.ExpectedChannels(); ec > 0 && p.expectedChannels == 0 {
		p.expectedChannels = ec
	}
	return nil
}

// EnableDrift configures (or reconfigures) the drift detector for this
// pipeline; sampleRateHz <= 0 disables detection.
func (p *Pipeline) EnableDrift(sampleRateHz, thresholdPct float64) {
	p.drift = newDriftDetector(sampleRateHz, thresholdPct)
}

// Process drives one block through every stage in order, per the §4.1
// executor algorithm: validate channels, feed the drift detector, run
// each stage (in place or resizing), fire tap/completion callbacks, flush
// the log ring, and return the final block.
func (p *Pipeline) Process(samples SampleBlock, ts Timestamps, opts ProcessOptions) (SampleBlock, Timestamps, error) {
	channels := opts.Channels
	if channels <= 0 {
		return nil, nil, &InvalidParameterError{Field: "channels", Reason: "must be >= 1"}
	}
	if p.expectedChannels > 0 && channels != p.expectedChannels {
		return nil, nil, &ChannelMismatchError{Expected: p.expectedChannels, Got: channels}
	}

	frames := frameCount(samples, channels)
	if ts == nil {
		ts = synthesizeTimestamps(frames, opts.SampleRateHz)
	}

	if opts.DriftDetect && p.drift != nil {
		p.drift.scan(ts, func(ev DriftEvent) {
			p.obs.notifyDrift(ev)
			if opts.OnDrift != nil {
				p.obs.safeCall("pipeline.callback.onDrift", func() { opts.OnDrift(ev) })
			}
		})
	}

	buf := samples
	curTs := ts
	curChannels := channels
	logFn := p.obs.logFunc()
	ctx := &StageContext{Log: logFn}

	for _, stage := range p.stages {
		start := monotonicMillis()
		var err error
		if stage.IsResizing() {
			var out SampleBlock
			var outTs Timestamps
			outFrames := stage.CalculateOutputSize(frameCount(buf, curChannels))
			out, outTs, err = stage.ProcessResizing(ctx, buf, frameCount(buf, curChannels), curChannels, curTs)
			if err == nil {
				buf = out
				curTs = outTs
				// A resizing stage may also change the channel count
				// (matrix transforms, channel routing, SNR).
				if outFrames > 0 {
					curChannels = len(out) / outFrames
				}
			}
		} else {
			err = stage.Process(ctx, buf, frameCount(buf, curChannels), curChannels, curTs)
		}
		duration := monotonicMillis() - start
		p.lastStageDurations[stage.Type()] = duration

		if err != nil {
			p.obs.notifyError(stage.Type(), err)
			logFn("pipeline.stage."+stage.Type()+".error", LevelError, err.Error(), nil)
			return nil, nil, err
		}
		p.obs.notifyBatch(stage.Type(), buf)
		p.obs.notifyStageDone(p.name, duration)
	}

	p.obs.flush()
	return buf, curTs, nil
}

// monotonicMillis reports elapsed-time-friendly milliseconds; isolated in
// its own function so stage timing has one call site to reason about.
func monotonicMillis() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}

// SaveState serializes every stage's private state into a checkpoint
// document (spec.md §4.14, §6 save_state).
func (p *Pipeline) SaveState() (string, error) {
	return saveState(p.stages, time.Now())
}

// LoadState restores every stage's private state from a checkpoint
// document previously produced by SaveState, rejecting (with no partial
// application) a structural mismatch in schema version, stage count,
// stage type sequence or critical per-stage configuration.
func (p *Pipeline) LoadState(doc string) error {
	return loadState(p.stages, doc)
}

// ClearState resets every stage to its construction defaults.
func (p *Pipeline) ClearState() {
	for _, s := range p.stages {
		s.Reset()
	}
	if p.drift != nil {
		p.drift.reset()
	}
}

// StageSummary is one entry of ListState's lightweight description.
type StageSummary struct {
	Type   string
	Config map[string]any
}

// ListState returns a summary of the pipeline's stage sequence with no
// private-state dumps (spec.md §4.1 list_state).
func (p *Pipeline) ListState() []StageSummary {
	out := make([]StageSummary, len(p.stages))
	for i, s := range p.stages {
		out[i] = StageSummary{Type: s.Type(), Config: s.ConfigSummary()}
	}
	return out
}

// StageCount reports how many stages are currently configured.
func (p *Pipeline) StageCount() int { return len(p.stages) }
