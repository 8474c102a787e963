package handlers

import "context"

// Handler is the execution unit bound to a step. Instances are created fresh
// per step per run from the registry and discarded afterward.
type Handler interface {
	// Execute runs the step with its resolved input and the workflow-level
	// config. The returned map becomes the step's output namespace.
	Execute(ctx context.Context, input Input) (map[string]any, error)
}

// Input is the data a handler receives at execution time.
type Input struct {
	// Values holds the step's resolved input bindings. Keys bound to a
	// failed or skipped dependency resolve to nil and are listed in Missing.
	Values map[string]any

	// Missing names the input keys whose references could not be resolved.
	// Resolution never fails; handlers decide how to degrade.
	Missing []string

	// WorkflowConfig is the workflow-level config block, passed through
	// opaque (scoring weights, persona, tone, ...).
	WorkflowConfig map[string]any
}

// Value returns the resolved value for key, or nil if absent or unresolved.
func (in Input) Value(key string) any {
	return in.Values[key]
}

// Resolved reports whether key was bound and its reference resolved.
func (in Input) Resolved(key string) bool {
	if _, ok := in.Values[key]; !ok {
		return false
	}
	for _, m := range in.Missing {
		if m == key {
			return false
		}
	}
	return true
}

// Factory produces a Handler from a step's declared config and instructions.
// Factories must be pure: all state lives in the returned Handler.
type Factory func(config map[string]any, instructions string) (Handler, error)

// Info is a summary of a registered handler type for listing.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}
