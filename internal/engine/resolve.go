package engine

import (
	"github.com/rendis/leadflow/internal/handlers"
	"github.com/rendis/leadflow/pkg/schema"
)

// resolveInputs materializes a step's declared input bindings against the
// current execution state. Literals pass through; references look up the named
// step's output. Resolution never fails: a reference to a failed or skipped
// step, or to an absent output key, binds nil and is listed in Missing so the
// handler sees an explicit absent marker instead of an error.
func resolveInputs(step *schema.StepSpec, state *ExecutionState, workflowConfig map[string]any) handlers.Input {
	in := handlers.Input{
		Values:         make(map[string]any, len(step.Inputs)),
		WorkflowConfig: workflowConfig,
	}

	for _, binding := range step.Inputs {
		if !binding.IsRef() {
			in.Values[binding.Key] = binding.Value
			continue
		}

		stepID, outputKey := schema.SplitRef(binding.Ref)
		res, ok := state.Get(stepID)
		if !ok || res.Status != schema.StepStatusSucceeded {
			in.Values[binding.Key] = nil
			in.Missing = append(in.Missing, binding.Key)
			continue
		}

		if outputKey == "" {
			// Bare reference binds the whole output namespace.
			in.Values[binding.Key] = res.Output
			continue
		}

		val, present := res.Output[outputKey]
		if !present {
			in.Values[binding.Key] = nil
			in.Missing = append(in.Missing, binding.Key)
			continue
		}
		in.Values[binding.Key] = val
	}

	return in
}
