// Package mcp exposes the workflow engine to agents over the Model
// Context Protocol: run and validate workflows, inspect runs, list
// handlers and manage schedules.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/internal/handlers"
	"github.com/rendis/leadflow/internal/scheduler"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/internal/validation"
)

// ServerDeps holds the dependencies for creating a Server. Store and
// Scheduler are optional: without them status/query/schedule tools
// report that persistence is disabled.
type ServerDeps struct {
	Engine    *engine.Engine
	Registry  *handlers.Registry
	Validator *validation.Validator
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Server wraps an MCP server with leadflow tool handlers.
type Server struct {
	engine    *engine.Engine
	registry  *handlers.Registry
	validator *validation.Validator
	store     store.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:    deps.Engine,
		registry:  deps.Registry,
		validator: deps.Validator,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"leadflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Leadflow executes outreach pipeline workflows. Use leadflow.run to execute a workflow, leadflow.validate to pre-flight one, leadflow.status to inspect a run, leadflow.handlers to list available step handlers, leadflow.schedule to register a cron schedule, and leadflow.query to list past runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: handlersTool(), Handler: s.handleHandlers},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("leadflow.run",
		mcp.WithDescription("Execute a workflow spec and return the full run result"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow spec document (workflow_name, steps, config)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("leadflow.validate",
		mcp.WithDescription("Pre-flight a workflow spec without executing it; returns errors and warnings"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow spec document to validate")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("leadflow.status",
		mcp.WithDescription("Get a run's status and per-step outcomes"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func handlersTool() mcp.Tool {
	return mcp.NewTool("leadflow.handlers",
		mcp.WithDescription("List registered step handler types"),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("leadflow.schedule",
		mcp.WithDescription("Register a cron schedule that runs a workflow spec"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Unique schedule name")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Cron expression (minute hour dom month dow)")),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow spec to run on each firing")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("leadflow.query",
		mcp.WithDescription("List past runs, newest first"),
		mcp.WithString("workflow_name", mcp.Description("Filter by workflow name")),
		mcp.WithString("status", mcp.Description("Filter by run status (succeeded, partial, failed, cancelled)")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default 20)")),
	)
}
