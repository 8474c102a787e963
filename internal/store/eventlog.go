package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/pkg/schema"
)

// appendEventTx appends an event with a monotonically increasing per-run
// sequence. A write-intent statement forces immediate lock acquisition
// so concurrent writers cannot interleave sequence reads and writes.
func appendEventTx(ctx context.Context, db *sql.DB, event *Event) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx alone starts a deferred transaction.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// EventLog provides replay on top of the append-only event table.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends one event with the next per-run sequence number.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return appendEventTx(ctx, el.store.DB(), event)
}

// GetEvents returns events for a run with sequence > since, ascending.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// Replay reconstructs per-step outcomes for a run from its event log.
// A sequence gap means the log was tampered with or partially lost and
// is reported as an error.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[string]*StepRecord, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	records := make(map[string]*StepRecord)
	for i, e := range events {
		if e.Sequence != int64(i+1) {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, i+1, e.Sequence)
		}
		if e.StepID == "" {
			continue
		}

		rec, ok := records[e.StepID]
		if !ok {
			rec = &StepRecord{RunID: runID, StepID: e.StepID, Status: schema.StepStatusPending}
			records[e.StepID] = rec
		}

		var payload map[string]any
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &payload)
		}

		switch e.Type {
		case schema.EventStepStarted:
			rec.Status = schema.StepStatusRunning
		case schema.EventStepSucceeded:
			rec.Status = schema.StepStatusSucceeded
			rec.RecordedAt = e.Timestamp
			if out, ok := payload["output"]; ok {
				if raw, err := json.Marshal(out); err == nil {
					rec.Output = raw
				}
			}
			rec.DurationMs = int64(toFloat(payload["duration_ms"]))
		case schema.EventStepFailed:
			rec.Status = schema.StepStatusFailed
			rec.RecordedAt = e.Timestamp
			if msg, ok := payload["error"].(string); ok {
				rec.Error = msg
			}
			rec.DurationMs = int64(toFloat(payload["duration_ms"]))
		case schema.EventStepSkipped:
			rec.Status = schema.StepStatusSkipped
			rec.RecordedAt = e.Timestamp
		}
	}
	return records, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// Recorder adapts the store to the engine's event sink and keeps the
// runs and step_results tables in step with the event stream. The run
// row is created on the run_started event because the engine mints the
// run ID; the spec rides in that event's payload.
type Recorder struct {
	store *LibSQLStore
}

// NewRecorder builds a Recorder over the store.
func NewRecorder(s *LibSQLStore) *Recorder {
	return &Recorder{store: s}
}

// Append persists the event and applies its side effects on the run and
// step tables.
func (r *Recorder) Append(ctx context.Context, ev engine.Event) error {
	var payload json.RawMessage
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "marshal payload: %s", err.Error()).WithCause(err)
		}
		payload = raw
	}

	if err := appendEventTx(ctx, r.store.DB(), &Event{
		RunID:     ev.RunID,
		StepID:    ev.StepID,
		Type:      ev.Type,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	}); err != nil {
		return err
	}

	switch ev.Type {
	case schema.EventRunStarted:
		spec, err := json.Marshal(ev.Payload["spec"])
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "marshal run spec: %s", err.Error()).WithCause(err)
		}
		name, _ := ev.Payload["workflow"].(string)
		version, _ := ev.Payload["version"].(string)
		now := ev.Timestamp
		if err := r.store.CreateRun(ctx, &Run{
			ID:           ev.RunID,
			WorkflowName: name,
			Version:      version,
			Status:       schema.RunStatusRunning,
			Spec:         spec,
			StartedAt:    &now,
		}); err != nil {
			return err
		}

	case schema.EventRunCompleted, schema.EventRunCancelled:
		status := schema.RunStatusFailed
		if s, ok := ev.Payload["status"].(string); ok && s != "" {
			status = schema.RunStatus(s)
		}
		now := ev.Timestamp
		update := RunUpdate{Status: &status, CompletedAt: &now}
		if msg, ok := ev.Payload["error"].(string); ok && msg != "" {
			update.Error = &msg
		}
		if err := r.store.UpdateRun(ctx, ev.RunID, update); err != nil {
			return err
		}

	case schema.EventStepSucceeded, schema.EventStepFailed, schema.EventStepSkipped:
		rec := &StepRecord{
			RunID:      ev.RunID,
			StepID:     ev.StepID,
			RecordedAt: ev.Timestamp,
			DurationMs: int64(toFloat(ev.Payload["duration_ms"])),
		}
		switch ev.Type {
		case schema.EventStepSucceeded:
			rec.Status = schema.StepStatusSucceeded
			if out, ok := ev.Payload["output"]; ok && out != nil {
				if raw, err := json.Marshal(out); err == nil {
					rec.Output = raw
				}
			}
		case schema.EventStepFailed:
			rec.Status = schema.StepStatusFailed
			if msg, ok := ev.Payload["error"].(string); ok {
				rec.Error = msg
			}
		case schema.EventStepSkipped:
			rec.Status = schema.StepStatusSkipped
		}
		if err := r.store.UpsertStepRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
