package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rove-run/rove/internal/agent"
	"github.com/rove-run/rove/internal/config"
)

// runResultEnvelope is the machine-readable shape `run --json` prints
// on success.
type runResultEnvelope struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	Provider   string `json:"provider"`
	DurationMS int64  `json:"duration_ms"`
	Answer     string `json:"answer"`
}

func cmdRun(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, jsonOut bool) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	localJSON := fs.Bool("json", false, "machine-readable output")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	jsonOut = jsonOut || *localJSON

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rove run <task> [--json]")
		return exitUserError
	}
	task := strings.Join(rest, " ")

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		printError(jsonOut, "runtime_init_failed", "run", err)
		return exitSysError
	}
	defer rt.Close()

	result, err := rt.loop.Run(ctx, agent.TaskInput{Prompt: task, Source: "cli"})
	if err != nil {
		printError(jsonOut, "task_failed", "run", err)
		return exitUserError
	}

	if jsonOut {
		env := runResultEnvelope{
			TaskID:     result.TaskID,
			Status:     "completed",
			Provider:   result.Provider,
			DurationMS: result.Duration.Milliseconds(),
			Answer:     result.FinalMessage,
		}
		data, err := json.Marshal(env)
		if err != nil {
			printError(true, "encode_failed", "run", err)
			return exitSysError
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Println(result.FinalMessage)
	return exitOK
}
