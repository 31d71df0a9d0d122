package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rove-run/rove/internal/agent"
	"github.com/rove-run/rove/internal/bus"
	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/crypto"
	"github.com/rove-run/rove/internal/otel"
	"github.com/rove-run/rove/internal/persistence"
	"github.com/rove-run/rove/internal/providers"
	"github.com/rove-run/rove/internal/ratelimit"
	"github.com/rove-run/rove/internal/registry"
	"github.com/rove-run/rove/internal/safety"
	"github.com/rove-run/rove/internal/sandbox"
	"github.com/rove-run/rove/internal/sandbox/native"
	"github.com/rove-run/rove/internal/sandbox/wasm"
)

// runtime holds every long-lived component a task source needs to
// submit work through the agent core. main builds exactly one of these,
// whether serving a single `run` invocation or a background daemon.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	bus      *bus.Bus
	store    *persistence.Store
	manifest *crypto.Manifest
	wasmHost *wasm.Host
	native   *native.Runtime
	limiter  *ratelimit.Limiter
	registry *registry.Registry
	router   *providers.Router
	loop     *agent.Loop
	otel     *otel.Provider

	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// buildRuntime wires the full stack: persistence, the security pipeline,
// the plugin runtimes, the provider router, and the agent core loop.
// Every gate (manifest verification, path guard, command allowlist,
// rate limiter) is live even for a single `run` invocation, since a T0
// filesystem read from the CLI runs through the identical Dispatch path
// a daemon-hosted task would.
func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	otelProvider, err := otel.Init(ctx, otel.Config{
		Enabled:        cfg.Otel.Enabled,
		Exporter:       cfg.Otel.Exporter,
		Endpoint:       cfg.Otel.Endpoint,
		ServiceName:    cfg.Otel.ServiceName,
		SampleRate:     cfg.Otel.SampleRate,
		MetricsEnabled: &cfg.Otel.MetricsEnabled,
		Version:        Version,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	rt.otel = otelProvider
	rt.closers = append(rt.closers, func() {
		if err := otelProvider.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown telemetry", "error", err)
		}
	})

	metrics, err := otel.NewMetrics(otelProvider.Meter)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	rt.bus = bus.New()

	dbPath := filepath.Join(cfg.HomeDir, "rove.db")
	store, err := persistence.Open(dbPath, rt.bus)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, func() {
		if err := store.FlushWAL(context.Background()); err != nil {
			logger.Warn("flush wal on shutdown", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	})

	if m, err := crypto.LoadManifest(filepath.Join(cfg.HomeDir, "manifest.json")); err == nil {
		rt.manifest = m
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("manifest load failed, running without verified plugins", "error", err)
	}

	workspaceDir := filepath.Join(cfg.HomeDir, "workspace")
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	guard := sandbox.NewGuard(workspaceDir, nil, cfg.Sandbox.DeniedPaths, cfg.Sandbox.MaxFileSizeBytes)
	executor := sandbox.NewExecutor(workspaceDir, cfg.Sandbox.AllowedCommands, cfg.Sandbox.DeniedCommands, time.Duration(cfg.Sandbox.ExecTimeoutSecs)*time.Second)

	wasmHost, err := wasm.NewHost(ctx, wasm.Config{
		Store:    store,
		Bus:      rt.bus,
		Guard:    guard,
		Executor: executor,
		Manifest: rt.manifest,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wasm host: %w", err)
	}
	rt.wasmHost = wasmHost
	rt.closers = append(rt.closers, func() {
		if err := wasmHost.Close(context.Background()); err != nil {
			logger.Warn("close wasm host", "error", err)
		}
	})

	rt.native = native.NewRuntime(rt.manifest, native.CoreContext{})

	rt.limiter = ratelimit.New(rt.bus)

	rt.registry = registry.New(registry.Config{
		WASMHost: rt.wasmHost,
		Native:   rt.native,
		Limiter:  rt.limiter,
		Bus:      rt.bus,
	})

	if rt.manifest != nil {
		loadManifestPlugins(ctx, rt, cfg.HomeDir)
	}

	adapters := buildAdapters(ctx, cfg, logger)
	rt.router = providers.New(adapters, nil, logger)

	rt.loop = agent.New(agent.Config{
		Router:   rt.router,
		Registry: rt.registry,
		Store:    rt.store,
		Bus:      rt.bus,
		Logger:   logger,
		Tracer:   rt.otel.Tracer,
		Metrics:  metrics,
	})

	return rt, nil
}

// loadManifestPlugins loads every manifest-declared plugin and
// current-platform core tool it can find on disk under home/plugins,
// registering each into the tool registry at T1 by default (a plugin's
// own manifest permissions, not its registry tier, is what actually
// bounds its filesystem/command reach).
func loadManifestPlugins(ctx context.Context, rt *runtime, home string) {
	pluginDir := filepath.Join(home, "plugins")

	for _, p := range rt.manifest.Plugins {
		path := filepath.Join(pluginDir, p.Path)
		data, err := os.ReadFile(path)
		if err != nil {
			rt.logger.Warn("manifest plugin not found on disk, skipping", "plugin", p.Name, "path", path, "error", err)
			continue
		}
		if err := rt.wasmHost.LoadModuleFromBytes(ctx, p.Name, data, path); err != nil {
			rt.logger.Warn("failed to load manifest plugin, deleting artifact", "plugin", p.Name, "path", path, "error", err)
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				rt.logger.Warn("failed to delete refused plugin artifact", "plugin", p.Name, "path", path, "error", rmErr)
			}
			continue
		}
		if err := rt.registry.Register(p.Name, "wasm plugin: "+p.Name, safety.T1, registry.BackendWASM, p.Name, nil); err != nil {
			rt.logger.Warn("failed to register manifest plugin", "plugin", p.Name, "error", err)
		}
	}

	for _, c := range rt.manifest.CoreTools {
		if !c.IsCurrentPlatform() {
			continue
		}
		path := filepath.Join(pluginDir, c.Path)
		if err := rt.native.Load(ctx, c.Name, path); err != nil {
			rt.logger.Warn("failed to load core tool, deleting artifact", "tool", c.Name, "path", path, "error", err)
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				rt.logger.Warn("failed to delete refused core tool artifact", "tool", c.Name, "path", path, "error", rmErr)
			}
			continue
		}
		if err := rt.registry.Register(c.Name, "native core tool: "+c.Name, safety.T1, registry.BackendNative, c.Name, nil); err != nil {
			rt.logger.Warn("failed to register core tool", "tool", c.Name, "error", err)
		}
	}
}

// buildAdapters constructs one provider adapter per configured LLM
// provider that has a resolvable API key (or, for the local adapter, no
// key at all), so the router only ranks candidates that could plausibly
// succeed.
func buildAdapters(ctx context.Context, cfg config.Config, logger *slog.Logger) []providers.Adapter {
	var adapters []providers.Adapter

	if localURL := os.Getenv("ROVE_LOCAL_ENDPOINT"); localURL != "" {
		adapters = append(adapters, providers.NewLocalAdapter(providers.LocalConfig{BaseURL: localURL}))
	}

	provider, model, apiKey := cfg.ResolveLLMConfig()

	if key := cfg.ProviderAPIKey("anthropic"); key != "" {
		adapters = append(adapters, providers.NewAnthropicAdapter(providers.AnthropicConfig{APIKey: key, Model: pick(provider == "anthropic", model, "")}))
	}
	if key := cfg.ProviderAPIKey("openai"); key != "" {
		adapters = append(adapters, providers.NewOpenAIAdapter(providers.OpenAIConfig{APIKey: key, Model: pick(provider == "openai", model, "")}))
	}
	if key := cfg.ProviderAPIKey("google"); key != "" {
		if g, err := providers.NewGeminiAdapter(ctx, providers.GeminiConfig{APIKey: key, Model: pick(provider == "google", model, "")}); err == nil {
			adapters = append(adapters, g)
		} else {
			logger.Warn("gemini adapter init failed", "error", err)
		}
	}
	if key := os.Getenv("NVIDIA_NIM_API_KEY"); key != "" {
		adapters = append(adapters, providers.NewNIMAdapter(providers.NIMConfig{APIKey: key}))
	}

	// resolveLLMConfig's own apiKey covers the deprecated single-provider
	// config shape; if none of the per-provider lookups above matched
	// but this one did, fall back to it so old config.yaml files keep working.
	if len(adapters) == 0 && apiKey != "" {
		switch provider {
		case "anthropic":
			adapters = append(adapters, providers.NewAnthropicAdapter(providers.AnthropicConfig{APIKey: apiKey, Model: model}))
		case "openai":
			adapters = append(adapters, providers.NewOpenAIAdapter(providers.OpenAIConfig{APIKey: apiKey, Model: model}))
		default:
			if g, err := providers.NewGeminiAdapter(ctx, providers.GeminiConfig{APIKey: apiKey, Model: model}); err == nil {
				adapters = append(adapters, g)
			}
		}
	}

	return adapters
}

func pick(use bool, value, fallback string) string {
	if use && value != "" {
		return value
	}
	return fallback
}

// jsonErrorEnvelope is the machine-readable error shape every CLI
// command prints on --json failure.
type jsonErrorEnvelope struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Context   string `json:"context,omitempty"`
}

func printError(jsonOut bool, kind, context string, err error) {
	if jsonOut {
		env := jsonErrorEnvelope{ErrorKind: kind, Message: err.Error(), Context: context}
		data, _ := json.Marshal(env)
		fmt.Fprintln(os.Stderr, string(data))
		return
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
}
