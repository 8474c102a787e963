package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/leadflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if len(run.Spec) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "run spec is empty")
	}
	status := run.Status
	if status == "" {
		status = schema.RunStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_name, version, status, spec, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowName, nullStr(run.Version), string(status), string(run.Spec),
		nullStr(run.Error), timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var (
		version, errMsg        sql.NullString
		specJSON, status       string
		startedAt, completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_name, version, status, spec, error, created_at, started_at, completed_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.WorkflowName, &version, &status, &specJSON, &errMsg,
		&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.Version = version.String
	run.Status = schema.RunStatus(status)
	run.Spec = json.RawMessage(specJSON)
	run.Error = errMsg.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	set := []string{"updated_at = CURRENT_TIMESTAMP"}
	var args []any
	if update.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		set = append(set, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE runs SET %s WHERE id = ?`, strings.Join(set, ", ")), args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT id, workflow_name, version, status, spec, error, created_at, started_at, completed_at, updated_at FROM runs`
	var where []string
	var args []any
	if filter.WorkflowName != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var (
			version, errMsg        sql.NullString
			specJSON, status       string
			startedAt, completedAt sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.WorkflowName, &version, &status, &specJSON, &errMsg,
			&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.Version = version.String
		run.Status = schema.RunStatus(status)
		run.Spec = json.RawMessage(specJSON)
		run.Error = errMsg.String
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "run", id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Events ---

// AppendEvent delegates to the event log path so the per-run sequence
// stays monotonic regardless of which entry point appended.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	return appendEventTx(ctx, s.db, event)
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`, runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Step records ---

func (s *LibSQLStore) UpsertStepRecord(ctx context.Context, rec *StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_results (run_id, step_id, status, output, error, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_id) DO UPDATE SET
		   status=excluded.status, output=excluded.output, error=excluded.error,
		   duration_ms=excluded.duration_ms, recorded_at=excluded.recorded_at`,
		rec.RunID, rec.StepID, string(rec.Status), nullRaw(rec.Output), nullStr(rec.Error),
		rec.DurationMs, timeOrNow(rec.RecordedAt),
	)
	return err
}

func (s *LibSQLStore) ListStepRecords(ctx context.Context, runID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_id, status, output, error, duration_ms, recorded_at
		 FROM step_results WHERE run_id = ? ORDER BY recorded_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*StepRecord
	for rows.Next() {
		rec := &StepRecord{}
		var output, errMsg sql.NullString
		var status string
		if err := rows.Scan(&rec.RunID, &rec.StepID, &status, &output, &errMsg, &rec.DurationMs, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.Status = schema.StepStatus(status)
		rec.Output = rawOrNil(output)
		rec.Error = errMsg.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if len(sched.Spec) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "schedule spec is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, name, cron_expr, spec, enabled, last_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.Name, sched.CronExpr, string(sched.Spec), boolToInt(sched.Enabled),
		nullTime(sched.LastRunAt), timeOrNow(sched.CreatedAt), timeOrNow(sched.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sched := &Schedule{}
	var specJSON string
	var enabled int
	var lastRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, cron_expr, spec, enabled, last_run_at, created_at, updated_at
		 FROM schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.Name, &sched.CronExpr, &specJSON, &enabled, &lastRun, &sched.CreatedAt, &sched.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}
	sched.Spec = json.RawMessage(specJSON)
	sched.Enabled = enabled != 0
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	return sched, nil
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	query := `SELECT id, name, cron_expr, spec, enabled, last_run_at, created_at, updated_at FROM schedules`
	if filter.EnabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scheds []*Schedule
	for rows.Next() {
		sched := &Schedule{}
		var specJSON string
		var enabled int
		var lastRun sql.NullTime
		if err := rows.Scan(&sched.ID, &sched.Name, &sched.CronExpr, &specJSON, &enabled, &lastRun, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
			return nil, err
		}
		sched.Spec = json.RawMessage(specJSON)
		sched.Enabled = enabled != 0
		if lastRun.Valid {
			sched.LastRunAt = &lastRun.Time
		}
		scheds = append(scheds, sched)
	}
	return scheds, rows.Err()
}

func (s *LibSQLStore) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolToInt(enabled), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) MarkScheduleRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
