package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunCancelled = "run_cancelled"

	EventStepStarted   = "step_started"
	EventStepSucceeded = "step_succeeded"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"

	EventScheduleFired = "schedule_fired"
)

// RunStatus is the aggregate outcome of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded" // every step succeeded
	RunStatusPartial   RunStatus = "partial"   // entry succeeded, at least one other step failed
	RunStatusFailed    RunStatus = "failed"    // the entry step failed
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus is the terminal state of a single step within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the status counts as recorded for successor
// eligibility. Any terminal status unblocks dependents.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}
