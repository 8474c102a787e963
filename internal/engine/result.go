package engine

import (
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

// WorkflowResult is the terminal snapshot of a run: one StepResult per step in
// declaration order, the aggregate status, and total duration. Immutable once
// returned.
type WorkflowResult struct {
	RunID     string           `json:"run_id"`
	Workflow  string           `json:"workflow"`
	Version   string           `json:"version,omitempty"`
	Status    schema.RunStatus `json:"status"`
	Steps     []StepResult     `json:"steps"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Step returns the result for a step ID, or nil if absent.
func (r *WorkflowResult) Step(id string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].StepID == id {
			return &r.Steps[i]
		}
	}
	return nil
}

// Failed returns the IDs of all failed steps, in declaration order.
func (r *WorkflowResult) Failed() []string {
	var ids []string
	for i := range r.Steps {
		if r.Steps[i].Status == schema.StepStatusFailed {
			ids = append(ids, r.Steps[i].StepID)
		}
	}
	return ids
}

// buildResult assembles the immutable snapshot from the execution state.
//
// Aggregate status: failed if the entry step failed, cancelled if the run was
// cut short, partial if any other step failed, succeeded otherwise.
func buildResult(g *ExecutionGraph, state *ExecutionState, cancelled bool) *WorkflowResult {
	result := &WorkflowResult{
		RunID:     state.RunID,
		Workflow:  g.Spec.Name,
		Version:   g.Spec.Version,
		Steps:     make([]StepResult, 0, len(g.Order)),
		StartedAt: state.StartedAt,
		Duration:  time.Since(state.StartedAt),
	}

	anyFailed := false
	entryFailed := false
	for _, id := range g.Order {
		res, ok := state.Get(id)
		if !ok {
			// Defensive: every step should have a terminal record by now.
			res = &StepResult{StepID: id, Status: schema.StepStatusSkipped}
		}
		result.Steps = append(result.Steps, *res)
		if res.Status == schema.StepStatusFailed {
			anyFailed = true
			if id == g.Entry {
				entryFailed = true
			}
		}
	}

	switch {
	case entryFailed:
		result.Status = schema.RunStatusFailed
	case cancelled:
		result.Status = schema.RunStatusCancelled
	case anyFailed:
		result.Status = schema.RunStatusPartial
	default:
		result.Status = schema.RunStatusSucceeded
	}
	return result
}
