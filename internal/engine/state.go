package engine

import (
	"sync"
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

// StepResult is the terminal record of one step within a run. Created exactly
// once per step, immediately after the handler returns or fails.
type StepResult struct {
	StepID   string            `json:"step_id"`
	Status   schema.StepStatus `json:"status"`
	Output   map[string]any    `json:"output,omitempty"` // present only when succeeded
	Error    string            `json:"error,omitempty"`  // present only when failed
	Duration time.Duration     `json:"duration_ns"`
}

// ExecutionState is the namespaced store of per-step results plus run-level
// metadata. It is owned by one engine run: exclusive-write via Record,
// shared-read via Get. Entries are append-only, one per step ID, never
// overwritten.
type ExecutionState struct {
	RunID     string
	StartedAt time.Time

	mu      sync.RWMutex
	results map[string]*StepResult
}

// NewExecutionState creates a fresh state for one run.
func NewExecutionState(runID string) *ExecutionState {
	return &ExecutionState{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		results:   make(map[string]*StepResult),
	}
}

// Record appends a step's terminal result. Recording the same step twice is a
// conflict: results are write-once by contract.
func (s *ExecutionState) Record(res *StepResult) error {
	if res == nil || res.StepID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step result missing step ID")
	}
	if !res.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"step %s recorded with non-terminal status %s", res.StepID, res.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[res.StepID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"step %s already has a recorded result", res.StepID).WithStep(res.StepID)
	}
	s.results[res.StepID] = res
	return nil
}

// Get returns the recorded result for a step, if any. The returned value is
// complete: Record publishes results atomically, so a reader never observes a
// partially written entry.
func (s *ExecutionState) Get(stepID string) (*StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[stepID]
	return res, ok
}

// Len returns the number of recorded results.
func (s *ExecutionState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
