// Command rove is a local-first AI agent engine: it drives an iterative
// think/act/observe loop against pluggable LLM providers, dispatching
// tool calls to sandboxed WASM plugins and signed native extensions
// behind a layered security pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rove-run/rove/internal/audit"
	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

const (
	exitOK        = 0
	exitUserError = 1
	exitSysError  = 2
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [global flags] <command> [args]

COMMANDS:
  run <task> [--json]     Submit a single task, wait, print the result
  start                   Start the daemon in the background
  stop                    Stop the running daemon
  status                  Show daemon and provider health
  history [--limit N]     Show the most recent N tasks (default 20)
  replay <task-id>        Emit the ordered steps of a past task
  doctor [--json]         Run diagnostic checks
  plugins list            List manifest-declared plugins
  skill <action>          Manage skill overlays: list, status, on, off, add, edit
  update [--check]        Fetch and verify the latest signed release

GLOBAL FLAGS:
  --config <path>         Path to config.yaml (default: $ROVE_HOME/config.yaml)
  --log <level>           Log level: debug, info, warn, error (default: info)
  --json                  Machine-readable output where supported

ENVIRONMENT:
  ROVE_HOME               Data directory (default: ~/.rove)
  ROVE_TEAM_PUBLIC_KEY    Overrides the compile-embedded manifest signing key
`, os.Args[0])
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("rove", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	logLevel := fs.String("log", "", "log level override")
	jsonOut := fs.Bool("json", false, "machine-readable output")
	fs.Usage = printUsage

	if err := fs.Parse(argv); err != nil {
		return exitUserError
	}
	args := fs.Args()
	if len(args) == 0 {
		printUsage()
		return exitUserError
	}

	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return exitOK
	}
	if cmd == "setup" {
		fmt.Fprintln(os.Stderr, "setup is an interactive wizard not implemented by this build; edit config.yaml directly.")
		return exitUserError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		return exitSysError
	}
	if *configPath != "" {
		fmt.Fprintf(os.Stderr, "warning: --config override not yet wired to a non-default path; using %s\n", cfg.HomeDir)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: init audit: %v\n", err)
		return exitSysError
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, cmd == "run" && !*jsonOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: init logger: %v\n", err)
		return exitSysError
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		return cmdRun(ctx, cfg, logger, rest, *jsonOut)
	case "daemon":
		// Hidden: StartBackground re-execs into "daemon run --home <dir>".
		if len(rest) == 0 || rest[0] != "run" {
			fmt.Fprintln(os.Stderr, "daemon: internal command, use start instead")
			return exitUserError
		}
		return cmdDaemonRun(ctx, cfg, logger, rest[1:])
	case "start":
		return cmdStart(ctx, cfg, logger, rest)
	case "stop":
		return cmdStop(cfg, *jsonOut)
	case "status":
		return cmdStatus(ctx, cfg, logger, *jsonOut)
	case "history":
		return cmdHistory(ctx, cfg, logger, rest, *jsonOut)
	case "replay":
		return cmdReplay(ctx, cfg, logger, rest, *jsonOut)
	case "doctor":
		return cmdDoctor(ctx, cfg, *jsonOut)
	case "plugins":
		return cmdPlugins(ctx, cfg, logger, rest, *jsonOut)
	case "skill":
		return cmdSkill(cfg, rest, *jsonOut)
	case "update":
		return cmdUpdate(cfg, rest, *jsonOut)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		printUsage()
		return exitUserError
	}
}
