package main

/*------------------------------------------------------------------
 *
 * Purpose:	Demo command for dspflow: assembles a pipeline from a
 *		YAML description and runs one block of samples through
 *		it, read from and written to stdin/stdout. Deliberately
 *		thin, the way cmd/direwolf/main.go is a flag-to-config
 *		shim over the C core: all the DSP logic lives in
 *		src/, this just wires flags to the builder and codec.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	dspflow "github.com/kvasir-dsp/dspflow/src"
)

// pipelineDescription is the YAML document format accepted by --pipeline:
// a channel count, an optional sample rate and drift configuration, and
// an ordered list of stages to hand to the builder one at a time.
type pipelineDescription struct {
	Name         string             `yaml:"name"`
	Channels     int                `yaml:"channels"`
	SampleRateHz float64            `yaml:"sampleRateHz"`
	Drift        *driftDescription  `yaml:"drift"`
	Stages       []stageDescription `yaml:"stages"`
}

type driftDescription struct {
	SampleRateHz float64 `yaml:"sampleRateHz"`
	ThresholdPct float64 `yaml:"thresholdPct"`
}

type stageDescription struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

func main() {
	var pipelineFile = pflag.StringP("pipeline", "p", "", "YAML pipeline description to build and run.")
	var textMode = pflag.BoolP("text", "t", false, "Read/write whitespace-separated decimal text instead of binary float32.")
	var describe = pflag.BoolP("describe", "d", false, "Dump the assembled pipeline's stage list to stderr before processing.")
	var checkpointOut = pflag.StringP("checkpoint-out", "o", "", "Save a checkpoint of post-processing stage state to this file.")
	var checkpointIn = pflag.StringP("checkpoint-in", "i", "", "Load a checkpoint of stage state before processing.")
	var verbose = pflag.BoolP("verbose", "v", false, "Emit pipeline log records to stderr.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dspflow - runs raw sample blocks through a dspflow pipeline.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: dspflow --pipeline file.yaml [options] < samples > samples\n\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	if !*verbose {
		logger.SetLevel(log.ErrorLevel)
	}

	if *pipelineFile == "" {
		fmt.Fprintln(os.Stderr, "dspflow: --pipeline is required")
		pflag.Usage()
		os.Exit(1)
	}

	desc, err := loadPipelineDescription(*pipelineFile)
	if err != nil {
		logger.Fatal("failed to load pipeline description", "err", err)
	}

	pipe, err := buildPipeline(desc, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", "err", err)
	}

	if *checkpointIn != "" {
		raw, err := os.ReadFile(*checkpointIn)
		if err != nil {
			logger.Fatal("failed to read checkpoint", "err", err)
		}
		if err := pipe.LoadState(string(raw)); err != nil {
			logger.Fatal("failed to load checkpoint", "err", err)
		}
	}

	if *describe {
		describePipeline(os.Stderr, pipe)
	}

	samples, err := readSamples(os.Stdin, *textMode)
	if err != nil {
		logger.Fatal("failed to read samples", "err", err)
	}

	channels := desc.Channels
	if channels <= 0 {
		channels = 1
	}

	opts := dspflow.ProcessOptions{
		Channels:     channels,
		SampleRateHz: desc.SampleRateHz,
	}
	if desc.Drift != nil {
		opts.DriftDetect = true
		opts.DriftThresholdPct = desc.Drift.ThresholdPct
		opts.OnDrift = func(ev dspflow.DriftEvent) {
			logger.Warn("timestamp drift detected", "sampleIndex", ev.SampleIndex, "relativeDriftPct", ev.RelativeDriftPct)
		}
	}

	out, _, err := pipe.Process(samples, nil, opts)
	if err != nil {
		logger.Fatal("pipeline processing failed", "err", err)
	}

	if err := writeSamples(os.Stdout, out, *textMode); err != nil {
		logger.Fatal("failed to write samples", "err", err)
	}

	if *checkpointOut != "" {
		doc, err := pipe.SaveState()
		if err != nil {
			logger.Fatal("failed to save checkpoint", "err", err)
		}
		if err := os.WriteFile(*checkpointOut, []byte(doc), 0o644); err != nil {
			logger.Fatal("failed to write checkpoint file", "err", err)
		}
	}
}

// loadPipelineDescription parses the YAML file named by --pipeline.
func loadPipelineDescription(path string) (*pipelineDescription, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc pipelineDescription
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("malformed pipeline description: %w", err)
	}
	return &desc, nil
}

// buildPipeline drives the fluent Builder over the description's stage
// list, wiring the observability config so log records surface through
// the given logger.
func buildPipeline(desc *pipelineDescription, logger *log.Logger) (*dspflow.Pipeline, error) {
	cfg := dspflow.ObservabilityConfig{
		OnLog: func(topic string, level dspflow.LogLevel, message string, context map[string]any) {
			logger.Debug(message, "topic", topic, "level", level.String())
		},
		OnError: func(stageName string, err error) {
			logger.Error("stage error", "stage", stageName, "err", err)
		},
	}

	b := dspflow.NewBuilder(desc.Name, cfg)
	for _, s := range desc.Stages {
		b.AddStage(s.Type, s.Params)
	}
	if desc.Drift != nil {
		b.WithDrift(desc.Drift.SampleRateHz, desc.Drift.ThresholdPct)
	}
	return b.Build()
}

// describePipeline writes a human-readable stage list, mirroring
// list_state() without dumping private per-stage state.
func describePipeline(w io.Writer, pipe *dspflow.Pipeline) {
	fmt.Fprintf(w, "pipeline: %d stage(s)\n", pipe.StageCount())
	for i, s := range pipe.ListState() {
		fmt.Fprintf(w, "  [%d] %s %v\n", i, s.Type, s.Config)
	}
}

// readSamples reads an entire block of interleaved float32 samples from
// r: little-endian binary by default, or whitespace-separated decimal
// text when textMode is set.
func readSamples(r io.Reader, textMode bool) (dspflow.SampleBlock, error) {
	if textMode {
		return readSamplesText(r)
	}
	return readSamplesBinary(r)
}

func readSamplesBinary(r io.Reader) (dspflow.SampleBlock, error) {
	br := bufio.NewReader(r)
	var out dspflow.SampleBlock
	for {
		var v float32
		if err := binary.Read(br, binary.LittleEndian, &v); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readSamplesText(r io.Reader) (dspflow.SampleBlock, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var out dspflow.SampleBlock
	for scanner.Scan() {
		tok := strings.TrimSpace(scanner.Text())
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid sample %q: %w", tok, err)
		}
		out = append(out, float32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// writeSamples is readSamples' inverse.
func writeSamples(w io.Writer, samples dspflow.SampleBlock, textMode bool) error {
	if textMode {
		bw := bufio.NewWriter(w)
		for i, v := range samples {
			if i > 0 {
				if _, err := bw.WriteString(" "); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32)); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
		return bw.Flush()
	}

	bw := bufio.NewWriter(w)
	for _, v := range samples {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return bw.Flush()
}
