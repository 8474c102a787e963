package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/pkg/schema"
)

// handleRun validates and executes a workflow spec.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, errResult := s.specFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}

	if result := s.validator.ValidateSpec(spec); !result.Valid() {
		return marshalResult(map[string]any{"valid": false, "validation": result})
	}

	result, err := s.engine.Run(ctx, spec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", err)), nil
	}
	return marshalResult(result)
}

// handleValidate runs the pre-flight pipeline without executing.
func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, errResult := s.specFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}

	result := s.validator.ValidateSpec(spec)
	return marshalResult(map[string]any{
		"valid":      result.Valid(),
		"validation": result,
	})
}

// handleStatus returns a run row plus its per-step outcomes.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("persistence is disabled; run status is unavailable"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
	}
	steps, stepsErr := s.store.ListStepRecords(ctx, runID)
	if stepsErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("step lookup failed: %v", stepsErr)), nil
	}

	return marshalResult(map[string]any{
		"run":   run,
		"steps": steps,
	})
}

// handleHandlers lists registered handler types.
func (s *Server) handleHandlers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"handlers": s.registry.List()})
}

// handleSchedule registers a cron schedule for a workflow spec.
func (s *Server) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	if s.store == nil || s.scheduler == nil {
		return mcp.NewToolResultError("scheduling is disabled"), nil
	}

	spec, errResult := s.specFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}
	if result := s.validator.ValidateSpec(spec); !result.Valid() {
		return marshalResult(map[string]any{"valid": false, "validation": result})
	}
	if err := s.scheduler.ValidateExpr(cronExpr); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := json.Marshal(spec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal spec: %v", err)), nil
	}
	sched := &store.Schedule{
		ID:       uuid.New().String(),
		Name:     name,
		CronExpr: cronExpr,
		Spec:     raw,
		Enabled:  true,
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create schedule: %v", err)), nil
	}

	next, _ := s.scheduler.NextRun(cronExpr, time.Now().UTC())
	return marshalResult(map[string]any{
		"schedule_id": sched.ID,
		"name":        name,
		"next_run_at": next,
	})
}

// handleQuery lists past runs.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("persistence is disabled; run history is unavailable"), nil
	}

	limit := req.GetInt("limit", 20)
	runs, err := s.store.ListRuns(ctx, store.RunFilter{
		WorkflowName: req.GetString("workflow_name", ""),
		Status:       schema.RunStatus(req.GetString("status", "")),
		Limit:        limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list runs failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs, "count": len(runs)})
}

// specFromRequest decodes the "workflow" object argument into a spec.
func (s *Server) specFromRequest(req mcp.CallToolRequest) (*schema.WorkflowSpec, *mcp.CallToolResult) {
	doc := mcp.ParseStringMap(req, "workflow", nil)
	if doc == nil {
		return nil, mcp.NewToolResultError("workflow is required")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("encode workflow: %v", err))
	}
	var spec schema.WorkflowSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("decode workflow: %v", err))
	}
	return &spec, nil
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
