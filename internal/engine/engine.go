package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/leadflow/internal/handlers"
	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/pkg/schema"
)

// DefaultConcurrency is the default bound on concurrently executing steps.
const DefaultConcurrency = 4

// Event is a structured notification emitted during a run. The engine decides
// nothing about storage or display. Sinks do.
type Event struct {
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives engine events. Implementations must be safe for
// concurrent use. Satisfied by store.EventLog and test fakes.
type EventSink interface {
	Append(ctx context.Context, ev Event) error
}

// Config holds engine configuration.
type Config struct {
	Concurrency int // max steps in flight (default DefaultConcurrency)
	Logger      *slog.Logger
	Events      EventSink // optional
}

// Engine walks an ExecutionGraph in dependency order, invoking handlers and
// recording one terminal StepResult per step. A step's failure never halts
// the walk: successors still run, with their bindings on the failed output
// resolved to absent.
type Engine struct {
	registry *handlers.Registry
	pool     *WorkerPool
	logger   *slog.Logger
	events   EventSink
}

// New creates an Engine over a handler registry.
func New(registry *handlers.Registry, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		pool:     NewWorkerPool(cfg.Concurrency),
		logger:   logger,
		events:   cfg.Events,
	}
}

// Run builds the graph for a spec and executes it.
func (e *Engine) Run(ctx context.Context, spec *schema.WorkflowSpec) (*WorkflowResult, error) {
	g, err := Build(spec)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, g)
}

// Execute drives one run over a pre-built graph. It either returns a complete
// WorkflowResult (success, partial, failed at entry, or cancelled) or rejects
// before any step runs with a structural error. There is no outcome where a
// single step's failure aborts the run.
func (e *Engine) Execute(ctx context.Context, g *ExecutionGraph) (*WorkflowResult, error) {
	// Pre-flight: every referenced handler type must exist before any step runs.
	if err := e.registry.Preflight(g.Spec); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	state := NewExecutionState(runID)
	ctx = logging.WithRunID(ctx, runID)

	e.logger.InfoContext(ctx, "run started",
		slog.String("workflow", g.Spec.Name),
		slog.Int("steps", len(g.Order)))
	e.emit(ctx, Event{RunID: runID, Type: schema.EventRunStarted, Payload: map[string]any{
		"workflow": g.Spec.Name,
		"version":  g.Spec.Version,
		"spec":     g.Spec,
	}})

	// remaining[id] counts predecessors without a recorded result; a step
	// becomes eligible when it reaches zero.
	remaining := make(map[string]int, len(g.Order))
	for _, id := range g.Order {
		remaining[id] = len(g.Preds[id])
	}

	pending := len(g.Order)
	results := make(chan *StepResult, len(g.Order))
	var ready []string

	record := func(res *StepResult) []string {
		if err := state.Record(res); err != nil {
			// Write-once violated would be an engine bug; surface loudly.
			e.logger.ErrorContext(ctx, "duplicate step result dropped",
				slog.String("step_id", res.StepID), slog.String("error", err.Error()))
			return nil
		}
		pending--
		e.emitStep(ctx, runID, res)

		var newly []string
		for _, next := range g.Succs[res.StepID] {
			remaining[next]--
			if remaining[next] == 0 {
				newly = append(newly, next)
			}
		}
		// Deterministic tie-break: declaration order within one activation.
		sort.Slice(newly, func(i, j int) bool {
			return g.Index[newly[i]] < g.Index[newly[j]]
		})
		return newly
	}

	// Unreachable steps are never dispatched. They are recorded as skipped up
	// front so every step still reaches a terminal status.
	for _, id := range g.Unreachable {
		ready = append(ready, record(&StepResult{StepID: id, Status: schema.StepStatusSkipped})...)
	}
	ready = append(ready, g.Entry)

	inFlight := 0
	cancelled := false

	for pending > 0 {
		// Dispatch everything eligible, unless cancellation was observed.
		if !cancelled {
			for len(ready) > 0 {
				id := ready[0]
				ready = ready[1:]
				if _, done := state.Get(id); done {
					continue // recorded without dispatch (unreachable)
				}
				step := g.Steps[id]
				input := resolveInputs(step, state, g.Spec.Config)

				task := func(taskCtx context.Context) {
					results <- e.invokeStep(taskCtx, runID, step, input)
				}
				if err := e.pool.Submit(ctx, task); err != nil {
					// Context cancelled or pool shut down: stop dispatching,
					// let in-flight steps finish.
					cancelled = true
					break
				}
				inFlight++
			}
		}

		if inFlight == 0 {
			break
		}

		res := <-results
		inFlight--
		ready = append(ready, record(res)...)

		if ctx.Err() != nil {
			cancelled = true
		}
	}

	// Steps never dispatched (cancellation) are recorded as skipped so the
	// result snapshot is total.
	if pending > 0 {
		for _, id := range g.Order {
			if _, ok := state.Get(id); !ok {
				record(&StepResult{StepID: id, Status: schema.StepStatusSkipped})
			}
		}
	}

	result := buildResult(g, state, cancelled)

	e.logger.InfoContext(ctx, "run completed",
		slog.String("workflow", g.Spec.Name),
		slog.String("status", string(result.Status)),
		slog.Duration("duration", result.Duration))
	e.emit(ctx, Event{RunID: runID, Type: schema.EventRunCompleted, Payload: map[string]any{
		"status":      string(result.Status),
		"duration_ms": result.Duration.Milliseconds(),
	}})

	return result, nil
}

// Close shuts down the engine's worker pool, waiting for in-flight steps.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// invokeStep creates the step's handler, executes it with the resolved input,
// and produces the step's terminal result. Handler panics are contained and
// recorded as failures.
func (e *Engine) invokeStep(ctx context.Context, runID string, step *schema.StepSpec, input handlers.Input) *StepResult {
	ctx = logging.WithStepID(ctx, step.ID)
	ctx = logging.WithHandler(ctx, step.Handler)

	e.logger.InfoContext(ctx, "step started")
	e.emit(ctx, Event{RunID: runID, StepID: step.ID, Type: schema.EventStepStarted, Payload: map[string]any{
		"handler": step.Handler,
	}})

	h, err := e.registry.Create(step.Handler, step.Config, step.Instructions)
	if err != nil {
		return &StepResult{
			StepID: step.ID,
			Status: schema.StepStatusFailed,
			Error:  fmt.Sprintf("create handler: %s", err.Error()),
		}
	}

	start := time.Now()
	output, execErr := execute(ctx, h, input)
	duration := time.Since(start)

	if execErr != nil {
		e.logger.ErrorContext(ctx, "step failed",
			slog.String("error", execErr.Error()),
			slog.Duration("duration", duration))
		return &StepResult{
			StepID:   step.ID,
			Status:   schema.StepStatusFailed,
			Error:    execErr.Error(),
			Duration: duration,
		}
	}

	e.logger.InfoContext(ctx, "step succeeded", slog.Duration("duration", duration))
	return &StepResult{
		StepID:   step.ID,
		Status:   schema.StepStatusSucceeded,
		Output:   output,
		Duration: duration,
	}
}

// execute runs a handler, converting panics into errors so one step's defect
// cannot crash the run.
func execute(ctx context.Context, h handlers.Handler, input handlers.Input) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, input)
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	if err := e.events.Append(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "event sink append failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) emitStep(ctx context.Context, runID string, res *StepResult) {
	var evType string
	payload := map[string]any{"duration_ms": res.Duration.Milliseconds()}
	switch res.Status {
	case schema.StepStatusSucceeded:
		evType = schema.EventStepSucceeded
		payload["output"] = res.Output
	case schema.StepStatusFailed:
		evType = schema.EventStepFailed
		payload["error"] = res.Error
	case schema.StepStatusSkipped:
		evType = schema.EventStepSkipped
	default:
		return
	}
	e.emit(ctx, Event{RunID: runID, StepID: res.StepID, Type: evType, Payload: payload})
}
