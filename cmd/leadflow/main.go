package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rendis/leadflow/internal/config"
	"github.com/rendis/leadflow/internal/diagram"
	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/internal/handlers"
	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/internal/scheduler"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/internal/validation"
	"github.com/rendis/leadflow/pkg/mcp"
	"github.com/rendis/leadflow/pkg/schema"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "graph":
		runGraph(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "version":
		fmt.Println("leadflow " + version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: leadflow <command> [flags]

commands:
  run <workflow.json>       execute a workflow and print the result
  validate <workflow.json>  pre-flight a workflow without executing it
  graph <workflow.json>     print the workflow graph as a Mermaid flowchart
  serve                     start the MCP server and cron scheduler
  version                   print the version`)
}

func buildLogger(level string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// components is the wired object graph shared by the subcommands.
type components struct {
	registry  *handlers.Registry
	validator *validation.Validator
	engine    *engine.Engine
	store     *store.LibSQLStore
}

func build(cfg Config, logger *slog.Logger, persist bool) (*components, error) {
	engines, err := handlers.NewEngines()
	if err != nil {
		return nil, fmt.Errorf("build expression engines: %w", err)
	}
	registry := handlers.NewRegistry()
	if err := handlers.RegisterBuiltins(registry, engines); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	validator, err := validation.New(registry)
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	c := &components{registry: registry, validator: validator}

	var sink engine.EventSink
	if persist {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := st.Migrate(context.Background()); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		c.store = st
		sink = store.NewRecorder(st)
	}

	c.engine = engine.New(registry, engine.Config{
		Concurrency: cfg.Concurrency,
		Logger:      logger,
		Events:      sink,
	})
	return c, nil
}

func (c *components) close() {
	c.engine.Close()
	if c.store != nil {
		c.store.Close()
	}
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	noPersist := fs.Bool("no-persist", false, "skip run persistence")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: leadflow run [flags] <workflow.json>")
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel)

	spec, err := config.LoadWorkflow(fs.Arg(0))
	if err != nil {
		fatal(err)
	}

	c, err := build(cfg, logger, cfg.Persist && !*noPersist)
	if err != nil {
		fatal(err)
	}
	defer c.close()

	if vr := c.validator.ValidateSpec(spec); !vr.Valid() {
		printJSON(vr)
		os.Exit(1)
	} else {
		for _, w := range vr.Warnings {
			logger.Warn("validation warning", slog.String("path", w.Path), slog.String("message", w.Message))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := c.engine.Run(ctx, spec)
	if err != nil {
		fatal(err)
	}
	printJSON(result)

	switch result.Status {
	case schema.RunStatusFailed, schema.RunStatusCancelled:
		os.Exit(1)
	}
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: leadflow validate <workflow.json>")
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel)

	spec, err := config.LoadWorkflow(fs.Arg(0))
	if err != nil {
		fatal(err)
	}

	c, err := build(cfg, logger, false)
	if err != nil {
		fatal(err)
	}
	defer c.close()

	result := c.validator.ValidateSpec(spec)
	printJSON(map[string]any{
		"workflow":   config.Describe(spec),
		"valid":      result.Valid(),
		"validation": result,
	})
	if !result.Valid() {
		os.Exit(1)
	}
}

func runGraph(args []string) {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: leadflow graph <workflow.json>")
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel)

	spec, err := config.LoadWorkflow(fs.Arg(0))
	if err != nil {
		fatal(err)
	}

	c, err := build(cfg, logger, false)
	if err != nil {
		fatal(err)
	}
	defer c.close()

	if vr := c.validator.ValidateSpec(spec); !vr.Valid() {
		printJSON(vr)
		os.Exit(1)
	}

	fmt.Println(diagram.RenderMermaid(spec, nil))
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel)

	c, err := build(cfg, logger, cfg.Persist)
	if err != nil {
		fatal(err)
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := mcp.ServerDeps{
		Engine:    c.engine,
		Registry:  c.registry,
		Validator: c.validator,
		Logger:    logger,
	}

	if c.store != nil {
		sched := scheduler.New(c.store, &runService{c: c, logger: logger}, logger)
		if err := sched.Start(ctx); err != nil {
			fatal(err)
		}
		defer sched.Stop()
		deps.Store = c.store
		deps.Scheduler = sched
	}

	srv := mcp.NewServer(deps)
	logger.Info("leadflow MCP server listening on stdio", slog.String("version", version))
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		fatal(err)
	}
}

// runService adapts the engine for scheduled firings: validate, run,
// log the outcome.
type runService struct {
	c      *components
	logger *slog.Logger
}

func (r *runService) RunSpec(ctx context.Context, spec *schema.WorkflowSpec) error {
	if vr := r.c.validator.ValidateSpec(spec); !vr.Valid() {
		return vr.ToError()
	}
	result, err := r.c.engine.Run(ctx, spec)
	if err != nil {
		return err
	}
	r.logger.Info("scheduled run finished",
		slog.String("workflow", spec.Name),
		slog.String("run_id", result.RunID),
		slog.String("status", string(result.Status)))
	return nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
