package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Step outcomes (materialized view of the event log)
	UpsertStepRecord(ctx context.Context, rec *StepRecord) error
	ListStepRecords(ctx context.Context, runID string) ([]*StepRecord, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	SetScheduleEnabled(ctx context.Context, id string, enabled bool) error
	MarkScheduleRun(ctx context.Context, id string) error
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
