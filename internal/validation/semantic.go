package validation

import (
	"fmt"

	"github.com/rendis/leadflow/pkg/schema"
)

// HandlerLookup answers whether a handler type name is registered.
// *handlers.Registry satisfies it.
type HandlerLookup interface {
	Has(typeName string) bool
}

// validateSemantic checks everything JSON Schema cannot express:
// duplicate IDs, handler availability, successor and input references.
func validateSemantic(spec *schema.WorkflowSpec, lookup HandlerLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(spec.Steps))
	for i, s := range spec.Steps {
		if stepIDs[s.ID] {
			result.AddError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q", s.ID))
			continue
		}
		stepIDs[s.ID] = true
	}

	for i := range spec.Steps {
		validateStepSemantic(&spec.Steps[i], fmt.Sprintf("steps[%d]", i), stepIDs, lookup, result)
	}
	return result
}

func validateStepSemantic(step *schema.StepSpec, path string, stepIDs map[string]bool, lookup HandlerLookup, result *schema.ValidationResult) {
	if lookup != nil && step.Handler != "" && !lookup.Has(step.Handler) {
		result.AddError(path+".handler", schema.ErrCodeUnknownHandler,
			fmt.Sprintf("handler %q not registered", step.Handler))
	}

	seen := make(map[string]bool, len(step.NextSteps))
	for j, next := range step.NextSteps {
		nextPath := fmt.Sprintf("%s.next_steps[%d]", path, j)
		switch {
		case !stepIDs[next]:
			result.AddError(nextPath, schema.ErrCodeUnknownStep,
				fmt.Sprintf("references non-existent step %q", next))
		case next == step.ID:
			result.AddError(nextPath, schema.ErrCodeCycleDetected,
				fmt.Sprintf("step %q lists itself as successor", step.ID))
		case seen[next]:
			result.AddError(nextPath, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate successor %q", next))
		}
		seen[next] = true
	}

	keys := make(map[string]bool, len(step.Inputs))
	for j, in := range step.Inputs {
		inPath := fmt.Sprintf("%s.inputs[%d]", path, j)
		if keys[in.Key] {
			result.AddError(inPath+".key", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate input key %q", in.Key))
		}
		keys[in.Key] = true

		if in.Ref != "" && in.Value != nil {
			result.AddError(inPath, schema.ErrCodeValidation,
				fmt.Sprintf("input %q sets both value and ref", in.Key))
		}
		if !in.IsRef() {
			continue
		}
		refStep, _ := schema.SplitRef(in.Ref)
		if !stepIDs[refStep] {
			result.AddError(inPath+".ref", schema.ErrCodeUnknownStep,
				fmt.Sprintf("references output of non-existent step %q", refStep))
		} else if refStep == step.ID {
			result.AddError(inPath+".ref", schema.ErrCodeValidation,
				fmt.Sprintf("step %q references its own output", step.ID))
		}
	}
}
