package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rove-run/rove/internal/agent"
	"github.com/rove-run/rove/internal/channels"
	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/cron"
	"github.com/rove-run/rove/internal/daemon"
)

func cmdStart(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	foreground := fs.Bool("foreground", false, "run in the foreground instead of detaching")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}

	opts := daemon.Options{Home: cfg.HomeDir, Addr: cfg.BindAddr}

	if *foreground {
		if err := daemon.StartForeground(ctx, opts, func(runCtx context.Context) error {
			return runDaemonBody(runCtx, cfg, logger)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitSysError
		}
		return exitOK
	}

	pid, err := daemon.StartBackground(opts, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitSysError
	}
	fmt.Printf("daemon started, pid %d\n", pid)
	return exitOK
}

func cmdStop(cfg config.Config, jsonOut bool) int {
	stopped, err := daemon.Stop(cfg.HomeDir)
	if err != nil {
		printError(jsonOut, "stop_failed", "stop", err)
		if err == daemon.ErrNotRunning {
			return exitUserError
		}
		return exitSysError
	}
	if jsonOut {
		data, _ := json.Marshal(map[string]bool{"stopped": stopped})
		fmt.Println(string(data))
		return exitOK
	}
	fmt.Println("daemon stopped")
	return exitOK
}

func cmdStatus(ctx context.Context, cfg config.Config, logger *slog.Logger, jsonOut bool) int {
	st, err := daemon.Status(cfg.HomeDir)
	if err != nil {
		printError(jsonOut, "status_failed", "status", err)
		return exitSysError
	}

	type providerStatus struct {
		Running bool              `json:"running"`
		PID     int               `json:"pid,omitempty"`
		Addr    string            `json:"addr,omitempty"`
		Health  map[string]string `json:"providers,omitempty"`
	}
	out := providerStatus{Running: st.Running, PID: st.PID, Addr: st.Addr}

	rt, rtErr := buildRuntime(ctx, cfg, logger)
	if rtErr == nil {
		defer rt.Close()
		out.Health = make(map[string]string)
		for name, probeErr := range rt.router.Probe(ctx) {
			if probeErr != nil {
				out.Health[name] = probeErr.Error()
			} else {
				out.Health[name] = "ok"
			}
		}
	}

	if jsonOut {
		data, err := json.Marshal(out)
		if err != nil {
			printError(true, "encode_failed", "status", err)
			return exitSysError
		}
		fmt.Println(string(data))
		return exitOK
	}

	if st.Running {
		fmt.Printf("daemon: [%s] running (pid %d, addr %s)\n", renderStatus("PASS"), st.PID, st.Addr)
	} else {
		fmt.Printf("daemon: [%s] not running\n", renderStatus("FAIL"))
	}
	for name, health := range out.Health {
		status := "PASS"
		if health != "ok" {
			status = "FAIL"
		}
		fmt.Printf("provider %-12s [%s] %s\n", name, renderStatus(status), health)
	}
	return exitOK
}

// cmdDaemonRun is the hidden entry point daemon.StartBackground re-execs
// into: "rove daemon run --home <dir>". It is never invoked directly by
// a user; `start` is the public surface.
func cmdDaemonRun(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("daemon run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	home := fs.String("home", cfg.HomeDir, "state directory")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	cfg.HomeDir = *home

	opts := daemon.Options{Home: cfg.HomeDir, Addr: cfg.BindAddr}
	if err := daemon.StartForeground(ctx, opts, func(runCtx context.Context) error {
		return runDaemonBody(runCtx, cfg, logger)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitSysError
	}
	return exitOK
}

// runDaemonBody wires every background task source (cron, Telegram) on
// top of the same runtime a single `run` invocation uses, then blocks
// until ctx is cancelled.
func runDaemonBody(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	submit := func(runCtx context.Context, source, prompt string) error {
		_, err := rt.loop.Run(runCtx, agent.TaskInput{Prompt: prompt, Source: source})
		return err
	}

	var cronEntries []cron.Entry
	for _, e := range cfg.Cron {
		cronEntries = append(cronEntries, cron.Entry{Name: e.Name, CronExpr: e.CronExpr, Prompt: e.Prompt})
	}
	if len(cronEntries) > 0 {
		sched, err := cron.NewScheduler(cron.Config{Entries: cronEntries, Submit: submit, Logger: logger})
		if err != nil {
			return fmt.Errorf("cron scheduler: %w", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	if cfg.Channels.Telegram.Enabled {
		tg := channels.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, rt.loop.Run, logger)
		go func() {
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}
