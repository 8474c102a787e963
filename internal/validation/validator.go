// Package validation implements the pre-flight pipeline for workflow
// specs: JSON Schema shape checks, semantic reference checks, then
// graph analysis. Later stages only run when earlier ones pass, so a
// malformed document never reaches graph construction.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/pkg/schema"
)

// Validator runs the full pre-flight pipeline.
type Validator struct {
	schemas  *SchemaValidator
	handlers HandlerLookup
}

// New creates a Validator. lookup may be nil, which skips handler
// availability checks (useful when validating specs authored before
// handler config is available).
func New(lookup HandlerLookup) (*Validator, error) {
	sv, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{schemas: sv, handlers: lookup}, nil
}

// ValidateSpec runs all stages against a decoded spec and aggregates
// every issue found. Unreachable steps surface as warnings: the engine
// records them as skipped rather than refusing the workflow.
func (v *Validator) ValidateSpec(spec *schema.WorkflowSpec) *schema.ValidationResult {
	result := v.schemas.ValidateSpec(spec)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(spec, v.handlers))
	if !result.Valid() {
		return result
	}

	v.validateGraph(spec, result)
	return result
}

// validateGraph delegates structural analysis (entry, cycles,
// reachability) to graph construction and folds the outcome in.
func (v *Validator) validateGraph(spec *schema.WorkflowSpec, result *schema.ValidationResult) {
	g, err := engine.Build(spec)
	if err != nil {
		var ferr *schema.FlowError
		if errors.As(err, &ferr) {
			path := "steps"
			if ferr.StepID != "" {
				path = fmt.Sprintf("steps[%s]", ferr.StepID)
			}
			result.AddError(path, ferr.Code, ferr.Message)
			return
		}
		result.AddError("steps", schema.ErrCodeValidation, err.Error())
		return
	}

	if len(g.Unreachable) > 0 {
		result.AddWarning("steps", schema.ErrCodeUnreachable,
			fmt.Sprintf("steps unreachable from entry %q and will be skipped: %s",
				g.Entry, strings.Join(g.Unreachable, ", ")))
	}
}
