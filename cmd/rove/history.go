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

func cmdHistory(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, jsonOut bool) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 20, "number of tasks to show")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "rove.db"), nil)
	if err != nil {
		printError(jsonOut, "store_open_failed", "history", err)
		return exitSysError
	}
	defer store.Close()

	tasks, err := store.ListRecentTasks(ctx, *limit)
	if err != nil {
		printError(jsonOut, "query_failed", "history", err)
		return exitSysError
	}

	if jsonOut {
		data, err := json.Marshal(tasks)
		if err != nil {
			printError(true, "encode_failed", "history", err)
			return exitSysError
		}
		fmt.Println(string(data))
		return exitOK
	}

	if len(tasks) == 0 {
		fmt.Println("no tasks recorded yet")
		return exitOK
	}
	for _, t := range tasks {
		fmt.Printf("%s  %-10s %-10s %6dms  %s\n", t.ID, t.Status, t.Provider, t.DurationMS, truncate(t.Prompt, 60))
	}
	return exitOK
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
