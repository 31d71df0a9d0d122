package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/registry"
)

type pluginStatus struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	Tier    string `json:"tier"`
	Loaded  bool   `json:"loaded"`
	Target  string `json:"target"`
}

func cmdPlugins(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, jsonOut bool) int {
	if len(args) == 0 || args[0] != "list" {
		fmt.Fprintln(os.Stderr, "usage: rove plugins list")
		return exitUserError
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		printError(jsonOut, "runtime_init_failed", "plugins", err)
		return exitSysError
	}
	defer rt.Close()

	var out []pluginStatus
	for _, tool := range rt.registry.Catalog() {
		backend := "wasm"
		loaded := rt.wasmHost.HasModule(tool.TargetName)
		if tool.Backend == registry.BackendNative {
			backend = "native"
			loaded = rt.native.Loaded(tool.TargetName)
		}
		out = append(out, pluginStatus{
			Name:    tool.Name,
			Backend: backend,
			Tier:    tool.Tier.String(),
			Loaded:  loaded,
			Target:  tool.TargetName,
		})
	}

	if jsonOut {
		data, err := json.Marshal(out)
		if err != nil {
			printError(true, "encode_failed", "plugins", err)
			return exitSysError
		}
		fmt.Println(string(data))
		return exitOK
	}

	if len(out) == 0 {
		fmt.Println("no plugins or core tools registered (no manifest.json, or manifest lists none found on disk)")
		return exitOK
	}
	for _, p := range out {
		state := "loaded"
		if !p.Loaded {
			state = "not loaded"
		}
		fmt.Printf("%-24s backend=%-7s tier=%-3s %s\n", p.Name, p.Backend, p.Tier, state)
	}
	return exitOK
}
