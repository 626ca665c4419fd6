// Command gpagent is an autonomous LLM-driven agent runtime.
//
// It exposes a CLI for one-shot queries and a long-running server mode
// that keeps the orchestrator, memory hierarchy, and TRM trainer alive
// across turns. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	gpagent serve              Start the agent server
//	gpagent init [dir]         Initialize a working directory with defaults
//	gpagent ask <question>     Ask a single question (for testing)
//	gpagent version            Print version and build information
//	gpagent -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/waddadaa/gpagent/internal/agent"
	"github.com/waddadaa/gpagent/internal/buildinfo"
	gpcontext "github.com/waddadaa/gpagent/internal/context"
	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/events"
	"github.com/waddadaa/gpagent/internal/fetch"
	"github.com/waddadaa/gpagent/internal/idgen"
	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/memory"
	"github.com/waddadaa/gpagent/internal/metrics"
	"github.com/waddadaa/gpagent/internal/search"
	"github.com/waddadaa/gpagent/internal/tools"
	"github.com/waddadaa/gpagent/internal/tools/builtin"
	"github.com/waddadaa/gpagent/internal/tools/mcpsource"
	"github.com/waddadaa/gpagent/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. All OS-level dependencies are injected as
// parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and any background training run.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these by hand rather than using the
//     flag package, whose flag.CommandLine global makes it impossible to
//     call run() concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: gpagent ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch", "uptime"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// gpagent is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "gpagent - Autonomous LLM Agent Runtime")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: gpagent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the agent server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// newLogger builds a slog.Logger writing to w at the given level, in
// either "text" or "json" format.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used and must exist — a typo in
// -config should fail loudly, not silently fall back to defaults.
// Otherwise, [config.FindConfig] searches the default locations; finding
// nothing there falls back to [config.Default].
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// components bundles the wired runtime the serve/ask subcommands share,
// so the call sites that need to poll stats (the metrics exporter) or
// tear things down (MCP server connections) don't have to thread each
// piece through separately.
type components struct {
	orch     *agent.Orchestrator
	mgr      *memory.Manager
	gateway  *llm.Gateway
	executor *tools.Executor
	bus      *events.Bus
	cleanup  func()
}

// buildOrchestrator wires every SPEC_FULL component into a single
// Orchestrator: the LLM Gateway (with failover), the Tool Registry and
// Executor, the Memory Manager, the Context Compactor, and the owned TRM
// stack. Shared by runServe and runAsk.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	primary := newProvider(cfg.LLM.PrimaryProvider, cfg.LLM.PrimaryModel, cfg, logger)
	fallback := newProvider(cfg.LLM.FallbackProvider, cfg.LLM.FallbackModel, cfg, logger)
	var summarizer llm.Provider
	if cfg.LLM.SummarizationModel != "" {
		summarizer = newProvider(cfg.LLM.PrimaryProvider, cfg.LLM.SummarizationModel, cfg, logger)
	}
	gateway := llm.NewGateway(primary, fallback, summarizer, logger)

	mgr := memory.NewManager(memory.ManagerConfig{
		StorageRoot:        cfg.Memory.StoragePath,
		CheckpointInterval: cfg.Memory.CheckpointInterval,
		AutoCheckpoint:     cfg.Memory.AutoCheckpoint,
	}, logger)
	sessionID := idgen.Session()
	if err := mgr.StartSession(sessionID); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	registry := tools.NewRegistry()

	// Brave and SearXNG are the only web-search backends this build links;
	// a config.Search.Provider of "perplexity" or "google" without a
	// matching registered provider fails at call time with a clear
	// "provider not configured" error rather than at startup.
	searchMgr := search.NewManager(cfg.Search.Provider)
	searchMgr.Register(search.NewBrave(cfg.APIKeys.Brave))
	searchMgr.Register(search.NewSearXNG("https://searx.be"))

	notesDir := cfg.Memory.DataDir + "/notes"
	notes := builtin.NewMemoryNotes(notesDir)

	if err := builtin.RegisterAll(registry, cfg, builtin.Deps{
		Fetcher:       fetch.New(),
		SearchManager: searchMgr,
		GitHubToken:   os.Getenv("GITHUB_TOKEN"),
		NotesDir:      notesDir,
	}); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	var mcpServers []*mcpsource.Server
	for _, mcpCfg := range cfg.Tools.MCPServers {
		srv, err := mcpsource.Connect(ctx, mcpCfg, logger)
		if err != nil {
			logger.Warn("mcp server connect failed", "server", mcpCfg.Name, "error", err)
			continue
		}
		n, err := srv.RegisterTools(ctx, registry)
		if err != nil {
			logger.Warn("mcp server tool registration failed", "server", mcpCfg.Name, "error", err)
			srv.Close()
			continue
		}
		logger.Info("registered mcp tools", "server", mcpCfg.Name, "count", n)
		mcpServers = append(mcpServers, srv)
	}

	executor := tools.NewExecutor(registry, cfg.Concurrency.MaxParallelTools)
	compactor := gpcontext.NewCompactor(gateway, gpcontext.CompactorConfig{
		CompactionThreshold: cfg.Context.CompactionThreshold,
		KeepRawTurns:        cfg.Context.KeepRawTurns,
		SummarizeBatch:      cfg.Context.SummarizeBatch,
	}, logger)

	bus := events.New()

	orch := agent.New(cfg.Agent, cfg.LLM, cfg.Context, cfg.TRM, gateway, registry, executor, mgr, compactor, notes, bus, logger)
	if err := orch.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize orchestrator: %w", err)
	}

	if cfg.Observability.MetricsEnabled {
		costStore, err := usage.NewStore(cfg.Memory.DataDir + "/usage.db")
		if err != nil {
			logger.Warn("usage ledger unavailable, cost tracking disabled", "error", err)
		} else {
			orch.EnableUsageTracking(costStore, cfg.Pricing)
		}
	}

	cleanup := func() {
		for _, srv := range mcpServers {
			srv.Close()
		}
	}
	return &components{
		orch:     orch,
		mgr:      mgr,
		gateway:  gateway,
		executor: executor,
		bus:      bus,
		cleanup:  cleanup,
	}, nil
}

// newProvider constructs the llm.Provider for a configured provider name,
// or nil if the provider is unset or unrecognized — the Gateway treats a
// nil primary/fallback/summarizer as unavailable rather than panicking.
func newProvider(providerName, model string, cfg *config.Config, logger *slog.Logger) llm.Provider {
	switch providerName {
	case "anthropic":
		return llm.NewAnthropicProvider(cfg.APIKeys.Anthropic, model, logger)
	case "gemini":
		return llm.NewGeminiProvider(cfg.APIKeys.Google, model, logger)
	default:
		return nil
	}
}

// runAsk handles "gpagent ask <question>". It boots a full Orchestrator
// against a throwaway session and processes a single turn, printing the
// response to stdout. Useful for smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	}

	c, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	defer c.cleanup()

	response, err := c.orch.Process(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, response)
	return nil
}

// runServe handles "gpagent serve". It boots the full Orchestrator, an
// HTTP mux exposing the event-stream websocket and (if enabled)
// Prometheus metrics, and blocks until ctx is cancelled (SIGINT/SIGTERM),
// at which point it drains the orchestrator and any in-flight training
// run before returning.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := newLogger(stdout, level, "text")
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults")
	}
	logger.Info("starting gpagent", "version", buildinfo.Version)

	c, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.cleanup()

	mux := http.NewServeMux()
	mux.Handle("/events", events.Handler(c.bus, logger))

	if cfg.Observability.MetricsEnabled {
		reg := metrics.New()
		mux.Handle("/metrics", reg.Handler())
		go pollMetrics(ctx, reg, c)
	}

	addr := fmt.Sprintf(":%d", cfg.Observability.MetricsPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErrCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.orch.Shutdown(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

// pollMetrics snapshots Gateway, Executor, and TRM stats into reg's
// gauges/counters every few seconds until ctx is cancelled. The Gateway
// and Executor accumulate their own running totals internally; this loop
// only re-publishes the deltas since the last poll as Prometheus counter
// adds, so a slow scrape interval never double-counts.
func pollMetrics(ctx context.Context, reg *metrics.Registry, c *components) {
	var lastGateway llm.UsageStats
	var lastExecutor tools.Stats

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		providerName := "unknown"
		if p := c.gateway.Primary(); p != nil {
			providerName = p.Name()
		}
		gw := c.gateway.Stats()
		reg.LLMRequestsTotal.WithLabelValues(providerName, "ok").Add(float64(gw.Requests - lastGateway.Requests - (gw.Failures - lastGateway.Failures)))
		reg.LLMRequestsTotal.WithLabelValues(providerName, "error").Add(float64(gw.Failures - lastGateway.Failures))
		reg.LLMTokensTotal.WithLabelValues("input").Add(float64(gw.TotalInputTokens - lastGateway.TotalInputTokens))
		reg.LLMTokensTotal.WithLabelValues("output").Add(float64(gw.TotalOutputTokens - lastGateway.TotalOutputTokens))
		lastGateway = gw

		ex := c.executor.Stats()
		reg.ToolExecutionsTotal.WithLabelValues("all", "ok").Add(float64(ex.Successful - lastExecutor.Successful))
		reg.ToolExecutionsTotal.WithLabelValues("all", "error").Add(float64(ex.Failed - lastExecutor.Failed))
		lastExecutor = ex

		reg.TRMEpisodeBufferSize.Set(float64(c.orch.EpisodeBuffer().Size()))
	}
}
