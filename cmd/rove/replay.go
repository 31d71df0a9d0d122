package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/persistence"
)

func cmdReplay(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, jsonOut bool) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: rove replay <task-id>")
		return exitUserError
	}
	taskID := rest[0]

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "rove.db"), nil)
	if err != nil {
		printError(jsonOut, "store_open_failed", "replay", err)
		return exitSysError
	}
	defer store.Close()

	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		printError(jsonOut, "task_not_found", "replay", err)
		return exitUserError
	}
	steps, err := store.ListSteps(ctx, taskID)
	if err != nil {
		printError(jsonOut, "query_failed", "replay", err)
		return exitSysError
	}

	if jsonOut {
		data, err := json.Marshal(struct {
			Task  *persistence.Task      `json:"task"`
			Steps []persistence.TaskStep `json:"steps"`
		}{Task: task, Steps: steps})
		if err != nil {
			printError(true, "encode_failed", "replay", err)
			return exitSysError
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("task %s  status=%s  provider=%s  prompt=%q\n", task.ID, task.Status, task.Provider, task.Prompt)
	fmt.Println("---")
	for _, s := range steps {
		fmt.Printf("%3d  %-18s %s\n", s.OrderIndex, s.Kind, truncate(s.Content, 200))
	}
	return exitOK
}
