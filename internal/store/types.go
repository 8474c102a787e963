package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

// Run is a persisted workflow execution.
type Run struct {
	ID           string           `json:"id"`
	WorkflowName string           `json:"workflow_name"`
	Version      string           `json:"version,omitempty"`
	Status       schema.RunStatus `json:"status"`
	Spec         json.RawMessage  `json:"spec"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// RunUpdate carries the mutable fields of a run. Nil fields are left
// untouched.
type RunUpdate struct {
	Status      *schema.RunStatus
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkflowName string
	Status       schema.RunStatus
	Limit        int
}

// Event is one append-only record of the run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// StepRecord is the persisted terminal outcome of one step in a run.
type StepRecord struct {
	RunID      string            `json:"run_id"`
	StepID     string            `json:"step_id"`
	Status     schema.StepStatus `json:"status"`
	Output     json.RawMessage   `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Schedule triggers a stored workflow spec on a cron expression.
type Schedule struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CronExpr  string          `json:"cron_expr"`
	Spec      json.RawMessage `json:"spec"`
	Enabled   bool            `json:"enabled"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ScheduleFilter narrows ListSchedules.
type ScheduleFilter struct {
	EnabledOnly bool
}
