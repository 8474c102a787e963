package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/pkg/schema"
)

// WorkflowRunner runs a decoded workflow spec. Satisfied by the server's
// run service (avoids an import cycle with the engine wiring).
type WorkflowRunner interface {
	RunSpec(ctx context.Context, spec *schema.WorkflowSpec) error
}

// Scheduler polls the store for due cron schedules and launches their
// workflows. Outreach cadences are minutes-coarse, so a 60s ticker with
// due-checking beats holding per-schedule timers.
type Scheduler struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// New creates a Scheduler.
func New(s store.Store, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled schedules and fires those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{EnabledOnly: true})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		due, err := s.isDue(sched, now)
		if err != nil {
			s.logger.Error("bad cron expression",
				slog.String("schedule_id", sched.ID),
				slog.String("cron", sched.CronExpr),
				slog.String("error", err.Error()))
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(sched.ID) {
			continue // previous firing still running
		}
		if err := s.fire(ctx, sched); err != nil {
			s.logger.Error("failed to fire schedule",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()))
		}
		s.release(sched.ID)
	}
}

// isDue reports whether the schedule's next firing after its last run
// has passed. A never-run schedule anchors at its creation time.
func (s *Scheduler) isDue(sched *store.Schedule, now time.Time) (bool, error) {
	anchor := sched.CreatedAt
	if sched.LastRunAt != nil {
		anchor = *sched.LastRunAt
	}
	next, err := s.NextRun(sched.CronExpr, anchor)
	if err != nil {
		return false, err
	}
	return !next.After(now), nil
}

// fire decodes the stored spec and hands it to the runner.
func (s *Scheduler) fire(ctx context.Context, sched *store.Schedule) error {
	s.logger.Info("firing schedule",
		slog.String("schedule_id", sched.ID),
		slog.String("name", sched.Name))

	var spec schema.WorkflowSpec
	if err := json.Unmarshal(sched.Spec, &spec); err != nil {
		return fmt.Errorf("decode schedule spec %q: %w", sched.ID, err)
	}

	// Mark before running so a long workflow does not re-fire next tick.
	if err := s.store.MarkScheduleRun(ctx, sched.ID); err != nil {
		return fmt.Errorf("mark schedule run %q: %w", sched.ID, err)
	}

	if err := s.runner.RunSpec(ctx, &spec); err != nil {
		s.logger.Error("scheduled workflow failed",
			slog.String("schedule_id", sched.ID),
			slog.String("workflow", spec.Name),
			slog.String("error", err.Error()))
	}
	return nil
}

// tryAcquire marks the schedule in-flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun computes the next firing time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// ValidateExpr reports whether a cron expression parses. Used when
// schedules are created so a typo fails at write time, not at tick.
func (s *Scheduler) ValidateExpr(cronExpr string) error {
	_, err := s.parser.Parse(cronExpr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
