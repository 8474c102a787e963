package schema

import "strings"

// WorkflowSpec is the JSON-serializable workflow format. It is the fully
// resolved form: the config loader has already substituted environment
// placeholders before a spec reaches the engine.
type WorkflowSpec struct {
	Name    string         `json:"workflow_name"`
	Version string         `json:"version,omitempty"`
	Steps   []StepSpec     `json:"steps"`
	Config  map[string]any `json:"config,omitempty"` // opaque workflow-level data passed to handlers
}

// StepSpec describes a single node of the workflow graph.
type StepSpec struct {
	ID           string         `json:"id"`
	Handler      string         `json:"handler"`                // registered handler type name
	Instructions string         `json:"instructions,omitempty"` // free-form, opaque to the engine
	Config       map[string]any `json:"config,omitempty"`       // handler construction config (API keys, endpoints)
	Inputs       []InputBinding `json:"inputs,omitempty"`       // ordered input bindings
	NextSteps    []string       `json:"next_steps,omitempty"`   // successor step IDs
}

// InputBinding declares one input key of a step. Exactly one of Value or Ref
// is set: Value carries a literal, Ref names another step's output as
// "<step_id>.<output_key>".
type InputBinding struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
	Ref   string `json:"ref,omitempty"`
}

// IsRef reports whether the binding references another step's output.
func (b InputBinding) IsRef() bool { return b.Ref != "" }

// SplitRef splits an input-binding reference into its step ID and output key.
// A bare reference (no dot) names a whole step output.
func SplitRef(ref string) (stepID, outputKey string) {
	if i := strings.Index(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// FindStep returns the StepSpec with the given ID, or nil if absent.
func (w *WorkflowSpec) FindStep(id string) *StepSpec {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}
