package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	The checkpoint codec (spec.md §4.14): a self-describing
 *		YAML document carrying a schema version, a capture
 *		timestamp, and one entry per stage (its type identifier,
 *		its construction-time config, and its private state).
 *		YAML is the teacher's own serialization choice
 *		(gopkg.in/yaml.v3), repurposed here from radio-config
 *		documents to pipeline checkpoints; timestamp formatting
 *		reuses the teacher's lestrrat-go/strftime dependency.
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/strftime"
	"gopkg.in/yaml.v3"
)

const checkpointSchemaVersion = 1
const checkpointTimestampPattern = "%Y-%m-%dT%H:%M:%S%z"

type checkpointStage struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
	State  map[string]any `yaml:"state"`
}

type checkpointDocument struct {
	SchemaVersion int               `yaml:"schemaVersion"`
	CapturedAt    string            `yaml:"capturedAt"`
	StageCount    int               `yaml:"stageCount"`
	Stages        []checkpointStage `yaml:"stages"`
}

// formatCaptureTimestamp renders t with the checkpoint's documented
// pattern, falling back to RFC3339 if the pattern somehow fails to
// compile (it never should; the pattern is a compile-time constant).
func formatCaptureTimestamp(t time.Time) string {
	out, err := strftime.Format(checkpointTimestampPattern, t)
	if err != nil {
		return t.Format(time.RFC3339)
	}
	return out
}

// encodeCheckpoint builds the document for the given stage sequence at
// capture time t.
func encodeCheckpoint(stages []Stage, t time.Time) checkpointDocument {
	doc := checkpointDocument{
		SchemaVersion: checkpointSchemaVersion,
		CapturedAt:    formatCaptureTimestamp(t),
		StageCount:    len(stages),
		Stages:        make([]checkpointStage, len(stages)),
	}
	for i, s := range stages {
		doc.Stages[i] = checkpointStage{
			Type:   s.Type(),
			Config: s.ConfigSummary(),
			State:  s.SerializeState(),
		}
	}
	return doc
}

// saveState marshals the current stage sequence's state to a YAML
// checkpoint document (spec.md §6 save_state).
func saveState(stages []Stage, t time.Time) (string, error) {
	doc := encodeCheckpoint(stages, t)
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", &KernelFailureError{Detail: fmt.Sprintf("checkpoint encode failed: %v", err)}
	}
	return string(out), nil
}

// loadState parses a checkpoint document and applies it to stages,
// following the four-step protocol of spec.md §4.14: parse and check
// schema version, require the stage sequence to match type-by-type and
// config-by-config, ask each stage to validate its own state invariants,
// then apply. No partial application happens on any failure.
func loadState(stages []Stage, raw string) error {
	var doc checkpointDocument
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return &StateFormatMismatchError{Field: "document", Reason: fmt.Sprintf("malformed checkpoint: %v", err)}
	}
	if doc.SchemaVersion != checkpointSchemaVersion {
		return &StateFormatMismatchError{Field: "schemaVersion", Reason: fmt.Sprintf("got %d, want %d", doc.SchemaVersion, checkpointSchemaVersion)}
	}
	if doc.StageCount != len(stages) || len(doc.Stages) != len(stages) {
		return &StateFormatMismatchError{Field: "stageCount", Reason: fmt.Sprintf("got %d, want %d", doc.StageCount, len(stages))}
	}
	for i, s := range stages {
		cs := doc.Stages[i]
		if cs.Type != s.Type() {
			return &StateFormatMismatchError{Field: "stages[].type", Reason: fmt.Sprintf("stage %d: got %q, want %q", i, cs.Type, s.Type())}
		}
		if !configsMatch(cs.Config, s.ConfigSummary()) {
			return &StateFormatMismatchError{Field: "stages[].config", Reason: fmt.Sprintf("stage %d (%s): saved configuration does not match", i, s.Type())}
		}
	}

	// Structural match (step 2) passed; steps 3 and 4 (per-stage invariant
	// validation, then apply) run together: each stage's own
	// DeserializeState re-validates its per-stage invariants (running-sum
	// consistency, vector lengths) fully before mutating its own fields,
	// but that only makes a single stage's application atomic — it says
	// nothing about stage i+1 failing after stage i has already been
	// applied within this same call. Snapshot every stage's current state
	// first so a failure partway through the sequence can be rolled back,
	// keeping the whole-pipeline apply atomic as spec.md §4.14 requires.
	snapshots := make([]map[string]any, len(stages))
	for i, s := range stages {
		snapshots[i] = s.SerializeState()
	}
	for i, s := range stages {
		m, ok := toStringMap(doc.Stages[i].State)
		if !ok {
			m = doc.Stages[i].State
		}
		if err := s.DeserializeState(m); err != nil {
			for j := 0; j < i; j++ {
				stages[j].DeserializeState(snapshots[j])
			}
			return err
		}
	}
	return nil
}

// configsMatch compares the critical subset of two ConfigSummary records:
// every key present in saved must be present in current with an equal
// (after numeric normalization) value. Extra keys in current are allowed
// so a stage may grow new, non-critical config fields across versions.
func configsMatch(saved, current map[string]any) bool {
	for k, sv := range saved {
		cv, ok := current[k]
		if !ok {
			return false
		}
		if !valuesEqual(sv, cv) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
