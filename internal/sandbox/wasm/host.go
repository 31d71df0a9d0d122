// Package wasm hosts WASM plugins under wazero: load-time manifest and
// content-hash verification, a bounded memory/time budget per module, and
// a host-function surface that delegates filesystem and git access to the
// sandbox Guard/Executor rather than touching the host directly.
package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rove-run/rove/internal/bus"
	"github.com/rove-run/rove/internal/crypto"
	"github.com/rove-run/rove/internal/persistence"
	"github.com/rove-run/rove/internal/sandbox"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// Fault reason codes for plugin invocations.
const (
	FaultModuleNotFound  = "WASM_MODULE_NOT_FOUND"
	FaultTimeout         = "WASM_TIMEOUT"
	FaultMemoryExceeded  = "WASM_MEMORY_EXCEEDED"
	FaultNoExport        = "WASM_NO_EXPORT"
	FaultExecError       = "WASM_FAULT"
	FaultQuarantined     = "WASM_QUARANTINED"
	FaultGateDenied      = "WASM_GATE_DENIED"
	FaultMemoryExhausted = "WASM_HOST_MEMORY_EXHAUSTED"
)

// PluginFault is a structured error emitted by plugin invocations.
type PluginFault struct {
	Reason string
	Module string
	Detail string
}

func (e *PluginFault) Error() string {
	return fmt.Sprintf("%s: module=%s: %s", e.Reason, e.Module, e.Detail)
}

// MaxCrashRestarts bounds automatic restarts before a plugin is
// quarantined for the remainder of the daemon's lifetime.
const MaxCrashRestarts = 3

const (
	DefaultMemoryLimitPages          = 160 // 1 page = 64KB, so 10MB
	DefaultAggregateMemoryLimitPages = 640  // 40MB across all modules
	DefaultInvokeTimeout             = 30 * time.Second
)

// Config configures a Host.
type Config struct {
	Store    *persistence.Store
	Bus      *bus.Bus
	Guard    *sandbox.Guard
	Executor *sandbox.Executor
	Manifest *crypto.Manifest
	Logger   *slog.Logger

	MemoryLimitPages          uint32
	AggregateMemoryLimitPages uint32
	InvokeTimeout             time.Duration
}

// Host is the WASM plugin runtime: one wazero runtime shared across all
// loaded modules, each bounded by a per-module and an aggregate memory
// limit.
type Host struct {
	store    *persistence.Store
	bus      *bus.Bus
	guard    *sandbox.Guard
	executor *sandbox.Executor
	manifest *crypto.Manifest
	logger   *slog.Logger

	runtime       wazero.Runtime
	invokeTimeout time.Duration

	modulesMu            sync.Mutex
	modules              map[string]api.Module
	moduleMemoryPages    map[string]uint32
	modulePermissions    map[string]crypto.PluginPermissions
	aggregateMemoryLimit uint32
}

// NewHost creates a Host and registers its host-function surface.
func NewHost(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	memPages := cfg.MemoryLimitPages
	if memPages == 0 {
		memPages = DefaultMemoryLimitPages
	}
	aggLimit := cfg.AggregateMemoryLimitPages
	if aggLimit == 0 {
		aggLimit = DefaultAggregateMemoryLimitPages
	}
	invokeTimeout := cfg.InvokeTimeout
	if invokeTimeout == 0 {
		invokeTimeout = DefaultInvokeTimeout
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memPages).
		WithCloseOnContextDone(true)

	h := &Host{
		store:                cfg.Store,
		bus:                  cfg.Bus,
		guard:                cfg.Guard,
		executor:             cfg.Executor,
		manifest:             cfg.Manifest,
		logger:               cfg.Logger,
		runtime:              wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		invokeTimeout:        invokeTimeout,
		modules:              map[string]api.Module{},
		moduleMemoryPages:    map[string]uint32{},
		modulePermissions:    map[string]crypto.PluginPermissions{},
		aggregateMemoryLimit: aggLimit,
	}

	builder := h.runtime.NewHostModuleBuilder("host")
	builder.NewFunctionBuilder().WithFunc(h.hostReadFile).Export("host.read_file")
	builder.NewFunctionBuilder().WithFunc(h.hostWriteFile).Export("host.write_file")
	builder.NewFunctionBuilder().WithFunc(h.hostListDirectory).Export("host.list_directory")
	builder.NewFunctionBuilder().WithFunc(h.hostExecGit).Export("host.exec_git")
	builder.NewFunctionBuilder().WithFunc(h.hostLog).Export("host.log")

	if _, err := builder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	return h, nil
}

func (h *Host) Close(ctx context.Context) error {
	h.modulesMu.Lock()
	for name, module := range h.modules {
		_ = module.Close(ctx)
		delete(h.modules, name)
		delete(h.moduleMemoryPages, name)
		delete(h.modulePermissions, name)
	}
	h.modulesMu.Unlock()
	return h.runtime.Close(ctx)
}

func (h *Host) HasModule(name string) bool {
	h.modulesMu.Lock()
	defer h.modulesMu.Unlock()
	_, ok := h.modules[name]
	return ok
}

// MemoryStats returns aggregate memory pages, per-module breakdown, and
// the configured limit.
func (h *Host) MemoryStats() (aggregatePages uint32, perModule map[string]uint32, limit uint32) {
	h.modulesMu.Lock()
	defer h.modulesMu.Unlock()
	perModule = make(map[string]uint32, len(h.moduleMemoryPages))
	for name, pages := range h.moduleMemoryPages {
		aggregatePages += pages
		perModule[name] = pages
	}
	limit = h.aggregateMemoryLimit
	return
}

// Invoke calls a plugin's "handle" export (falling back to "run" then
// "main" for modules built against an older ABI), passing the canonical
// JSON call arguments into guest memory and reading a JSON result buffer
// back out. Quarantine is checked first so a plugin that has exhausted
// its crash budget never runs again without an operator resetting it.
//
// A crash on the first attempt increments the plugin's crash counter; if
// the budget isn't yet exhausted, Invoke re-instantiates the module from
// its verified artifact and retries the original call exactly once
// before giving up, matching a transparent crash-restart rather than
// surfacing every first crash as a caller-visible failure. A successful
// retry resets the crash counter to 0.
func (h *Host) Invoke(ctx context.Context, moduleName string, args json.RawMessage) (json.RawMessage, error) {
	if h.store != nil {
		if rec, err := h.store.GetExtension(ctx, moduleName); err == nil && rec != nil && rec.LoadState == persistence.LoadQuarantined {
			h.logger.Warn("plugin quarantined, invocation denied", "module", moduleName)
			return nil, &PluginFault{Reason: FaultQuarantined, Module: moduleName, Detail: "plugin quarantined after repeated crashes"}
		}
	}

	result, err := h.callModule(ctx, moduleName, args)
	if err == nil {
		return result, nil
	}

	fault, ok := err.(*PluginFault)
	if !ok || fault.Reason == FaultModuleNotFound || fault.Reason == FaultNoExport {
		return nil, err
	}

	h.logger.Warn("plugin invocation fault", "module", moduleName, "reason", fault.Reason)
	if quarantined := h.recordCrash(ctx, moduleName); quarantined {
		return nil, fault
	}

	if !h.restartAndRetryOnce(ctx, moduleName) {
		return nil, fault
	}

	retryResult, retryErr := h.callModule(ctx, moduleName, args)
	if retryErr != nil {
		h.logger.Warn("plugin retry after crash restart also failed", "module", moduleName, "error", retryErr)
		return nil, retryErr
	}
	if h.store != nil {
		if err := h.store.ResetCrashCount(ctx, moduleName); err != nil {
			h.logger.Error("failed to reset crash count after successful retry", "module", moduleName, "error", err)
		}
	}
	h.logger.Info("plugin call succeeded after crash restart", "module", moduleName)
	return retryResult, nil
}

// callModule looks up the loaded module and runs its entry point once,
// with no crash-recovery logic of its own — that lives in Invoke, which
// is the only caller that needs to retry.
func (h *Host) callModule(ctx context.Context, moduleName string, args json.RawMessage) (json.RawMessage, error) {
	h.modulesMu.Lock()
	module, ok := h.modules[moduleName]
	h.modulesMu.Unlock()
	if !ok {
		return nil, &PluginFault{Reason: FaultModuleNotFound, Module: moduleName, Detail: "module not loaded"}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, h.invokeTimeout)
	defer cancel()

	for _, fnName := range []string{"handle", "run", "main"} {
		fn := module.ExportedFunction(fnName)
		if fn == nil {
			continue
		}
		result, err := callEntryPoint(invokeCtx, module, fn, args)
		if err != nil {
			if fault := classifyFault(moduleName, err); fault != nil {
				return nil, fault
			}
			continue
		}
		return result, nil
	}
	return nil, &PluginFault{Reason: FaultNoExport, Module: moduleName, Detail: "no callable export found"}
}

// callEntryPoint invokes fn with the wazero host/guest memory protocol: a
// two-param (argsPtr, argsLen) / two-result (resultPtr, resultLen) export
// receives the canonical call arguments written into guest memory via its
// own "alloc" export and returns a JSON result buffer the host reads back
// out. An export with any other arity is assumed to be the older
// zero-argument ABI and is called with no arguments, its bare int32
// return wrapped as {"exit_code": N}.
func callEntryPoint(ctx context.Context, module api.Module, fn api.Function, args json.RawMessage) (json.RawMessage, error) {
	def := fn.Definition()
	params := def.ParamTypes()
	results := def.ResultTypes()

	if len(params) == 2 && len(results) == 2 {
		argsPtr := writeWASMString(ctx, module, string(args))
		out, err := fn.Call(ctx, uint64(argsPtr), uint64(len(args)))
		if err != nil {
			return nil, err
		}
		if len(out) < 2 {
			return json.RawMessage("null"), nil
		}
		resultPtr, resultLen := uint32(out[0]), uint32(out[1])
		if resultLen == 0 {
			return json.RawMessage("null"), nil
		}
		data, ok := readWASMString(module, resultPtr, resultLen)
		if !ok {
			return nil, fmt.Errorf("wasm: failed to read result buffer at ptr=%d len=%d", resultPtr, resultLen)
		}
		return json.RawMessage(data), nil
	}

	out, err := fn.Call(ctx)
	if err != nil {
		return nil, err
	}
	var code int32
	if len(out) > 0 {
		code = int32(out[0])
	}
	return json.Marshal(map[string]int32{"exit_code": code})
}

// restartAndRetryOnce re-reads the plugin's verified artifact from disk
// and calls Restart, which re-verifies gate G2 before reloading. Returns
// false (without retrying) if there is no persisted artifact path to
// reload from, which only happens when Store is nil (local dev).
func (h *Host) restartAndRetryOnce(ctx context.Context, moduleName string) bool {
	if h.store == nil {
		return false
	}
	rec, err := h.store.GetExtension(ctx, moduleName)
	if err != nil || rec == nil {
		h.logger.Warn("cannot restart plugin: no extension record", "module", moduleName)
		return false
	}
	wasmBytes, err := os.ReadFile(rec.ArtifactPath)
	if err != nil {
		h.logger.Error("cannot restart plugin: read artifact failed", "module", moduleName, "path", rec.ArtifactPath, "error", err)
		return false
	}
	if err := h.Restart(ctx, moduleName, wasmBytes, rec.ArtifactPath); err != nil {
		h.logger.Error("plugin restart failed", "module", moduleName, "error", err)
		return false
	}
	return true
}

// recordCrash increments the plugin's crash counter and quarantines it
// once MaxCrashRestarts is exceeded, publishing the corresponding bus
// event either way. Returns true if this crash caused quarantine.
func (h *Host) recordCrash(ctx context.Context, moduleName string) bool {
	if h.store == nil {
		return false
	}
	count, err := h.store.IncrementCrashCount(ctx, moduleName)
	if err != nil {
		h.logger.Error("failed to record plugin crash", "module", moduleName, "error", err)
		return false
	}
	if count > MaxCrashRestarts {
		if err := h.store.SetLoadState(ctx, moduleName, persistence.LoadQuarantined); err != nil {
			h.logger.Error("failed to quarantine plugin", "module", moduleName, "error", err)
		}
		h.publish(bus.TopicPluginQuarantine, moduleName)
		h.logger.Warn("plugin quarantined after exceeding crash budget", "module", moduleName, "crashes", count)
		return true
	}
	h.publish(bus.TopicPluginCrashed, moduleName)
	return false
}

// Restart re-verifies the plugin's content hash against the manifest
// (gate G2) before reloading it, so a crash-restart can never be used to
// swap in tampered bytes between the original load and the restart.
func (h *Host) Restart(ctx context.Context, moduleName string, wasmBytes []byte, source string) error {
	if err := h.verifyGates(moduleName, wasmBytes); err != nil {
		return err
	}
	if err := h.LoadModuleFromBytes(ctx, moduleName, wasmBytes, source); err != nil {
		return err
	}
	if h.store != nil {
		_ = h.store.SetLoadState(ctx, moduleName, persistence.LoadLoaded)
	}
	h.publish(bus.TopicPluginRestarted, moduleName)
	return nil
}

// permissionsFor returns the manifest-declared permissions for a loaded
// module, or the conservative default if the module was never registered
// with one (e.g. no manifest configured).
func (h *Host) permissionsFor(moduleName string) crypto.PluginPermissions {
	h.modulesMu.Lock()
	perms, ok := h.modulePermissions[moduleName]
	h.modulesMu.Unlock()
	if ok {
		return perms
	}
	return crypto.DefaultPluginPermissions()
}

func (h *Host) publish(topic, module string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(topic, map[string]string{"module": module})
}

func classifyFault(moduleName string, err error) *PluginFault {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &PluginFault{Reason: FaultTimeout, Module: moduleName, Detail: err.Error()}
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return &PluginFault{Reason: FaultTimeout, Module: moduleName, Detail: err.Error()}
	}
	if strings.Contains(err.Error(), "memory") {
		return &PluginFault{Reason: FaultMemoryExceeded, Module: moduleName, Detail: err.Error()}
	}
	return &PluginFault{Reason: FaultExecError, Module: moduleName, Detail: err.Error()}
}

// verifyGates runs G1 (the module must be declared in the manifest) and
// G2 (its bytes must match the manifest's declared content hash) before
// any compile is attempted.
func (h *Host) verifyGates(name string, wasmBytes []byte) error {
	if h.manifest == nil {
		return nil // no manifest configured: gates are a no-op (e.g. local dev)
	}
	entry, found := h.manifest.GetPlugin(name)
	if !found {
		return &PluginFault{Reason: FaultGateDenied, Module: name, Detail: "not declared in manifest (gate G1)"}
	}
	ok, err := crypto.VerifyContentHash(wasmBytes, entry.Hash)
	if err != nil || !ok {
		return &PluginFault{Reason: FaultGateDenied, Module: name, Detail: "content hash mismatch (gate G2)"}
	}
	return nil
}

// LoadModuleFromBytes runs the gate sequence, compiles, and instantiates
// a module under the given name, evicting any prior module of that name
// first. The aggregate memory budget is enforced before instantiation so
// a hostile module can't be partially loaded to exhaust memory.
func (h *Host) LoadModuleFromBytes(ctx context.Context, name string, wasmBytes []byte, source string) error {
	if err := h.verifyGates(name, wasmBytes); err != nil {
		return err
	}

	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("compile wasm module %s: %w", name, err)
	}

	var estimatedPages uint32
	for _, def := range compiled.ImportedMemories() {
		estimatedPages += def.Min()
	}
	for _, def := range compiled.ExportedMemories() {
		estimatedPages += def.Min()
	}
	if estimatedPages == 0 {
		estimatedPages = 1
	}

	h.modulesMu.Lock()
	var currentAggregate uint32
	for n, pages := range h.moduleMemoryPages {
		if n != name {
			currentAggregate += pages
		}
	}
	if currentAggregate+estimatedPages > h.aggregateMemoryLimit {
		h.modulesMu.Unlock()
		return &PluginFault{
			Reason: FaultMemoryExhausted,
			Module: name,
			Detail: fmt.Sprintf("aggregate=%d pages, new=%d pages, limit=%d pages", currentAggregate, estimatedPages, h.aggregateMemoryLimit),
		}
	}
	if old, ok := h.modules[name]; ok {
		_ = old.Close(ctx)
		delete(h.modules, name)
		delete(h.moduleMemoryPages, name)
	}
	h.modulesMu.Unlock()

	perms := crypto.DefaultPluginPermissions()
	if h.manifest != nil {
		if entry, found := h.manifest.GetPlugin(name); found {
			perms = entry.Permissions
		}
	}

	module, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return fmt.Errorf("instantiate wasm module %s: %w", name, err)
	}

	actualPages := estimatedPages
	func() {
		defer func() { recover() }()
		if mem := module.Memory(); mem != nil {
			if pages, ok := mem.Grow(0); ok {
				actualPages = pages
			}
		}
	}()
	if actualPages == 0 {
		actualPages = 1
	}

	h.modulesMu.Lock()
	defer h.modulesMu.Unlock()
	h.modules[name] = module
	h.moduleMemoryPages[name] = actualPages
	h.modulePermissions[name] = perms

	var aggregate uint32
	for _, pages := range h.moduleMemoryPages {
		aggregate += pages
	}
	h.logger.Info("wasm module loaded", "module", name, "path", source,
		"memory_pages", actualPages, "aggregate_pages", aggregate, "limit_pages", h.aggregateMemoryLimit)
	return nil
}

func readWASMString(module api.Module, ptr, length uint32) (string, bool) {
	data, ok := module.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}

func writeWASMString(ctx context.Context, module api.Module, s string) uint32 {
	allocFn := module.ExportedFunction("alloc")
	if allocFn == nil {
		return 0
	}
	b := []byte(s)
	results, err := allocFn.Call(ctx, uint64(len(b)))
	if err != nil || len(results) == 0 {
		return 0
	}
	destPtr := uint32(results[0])
	if !module.Memory().Write(destPtr, b) {
		return 0
	}
	return destPtr
}

func (h *Host) hostReadFile(ctx context.Context, module api.Module, pathPtr, pathLen uint32) uint32 {
	path, ok := readWASMString(module, pathPtr, pathLen)
	if !ok || h.guard == nil {
		return 0
	}
	perms := h.permissionsFor(module.Name())
	if !perms.IsPathAllowed(path) {
		h.logger.Warn("host.read_file denied by plugin permissions", "module", module.Name(), "path", path)
		return 0
	}
	resolved, err := h.guard.Resolve(path)
	if err != nil {
		h.logger.Warn("host.read_file denied", "path", path, "error", err)
		return 0
	}
	maxSize := h.guard.MaxFileSize
	if perms.MaxFileSize > 0 && perms.MaxFileSize < maxSize {
		maxSize = perms.MaxFileSize
	}
	data, err := sandbox.ReadFileLimited(resolved, maxSize)
	if err != nil {
		h.logger.Warn("host.read_file failed", "path", resolved, "error", err)
		return 0
	}
	return writeWASMString(ctx, module, string(data))
}

func (h *Host) hostWriteFile(ctx context.Context, module api.Module, pathPtr, pathLen, contentPtr, contentLen uint32) uint32 {
	path, ok := readWASMString(module, pathPtr, pathLen)
	if !ok || h.guard == nil {
		return 0
	}
	content, ok := readWASMString(module, contentPtr, contentLen)
	if !ok {
		return 0
	}
	perms := h.permissionsFor(module.Name())
	if !perms.IsPathAllowed(path) {
		h.logger.Warn("host.write_file denied by plugin permissions", "module", module.Name(), "path", path)
		return 0
	}
	maxSize := h.guard.MaxFileSize
	if perms.MaxFileSize > 0 && perms.MaxFileSize < maxSize {
		maxSize = perms.MaxFileSize
	}
	if int64(len(content)) > maxSize {
		h.logger.Warn("host.write_file denied: content exceeds max file size", "module", module.Name(), "path", path, "size", len(content), "max", maxSize)
		return 0
	}
	resolved, err := h.guard.Resolve(path)
	if err != nil {
		h.logger.Warn("host.write_file denied", "path", path, "error", err)
		return 0
	}
	if err := sandbox.WriteFileAtomic(resolved, []byte(content)); err != nil {
		h.logger.Warn("host.write_file failed", "path", resolved, "error", err)
		return 0
	}
	return 1
}

func (h *Host) hostListDirectory(ctx context.Context, module api.Module, pathPtr, pathLen uint32) uint32 {
	path, ok := readWASMString(module, pathPtr, pathLen)
	if !ok || h.guard == nil {
		return 0
	}
	perms := h.permissionsFor(module.Name())
	if !perms.IsPathAllowed(path) {
		h.logger.Warn("host.list_directory denied by plugin permissions", "module", module.Name(), "path", path)
		return 0
	}
	resolved, err := h.guard.Resolve(path)
	if err != nil {
		h.logger.Warn("host.list_directory denied", "path", path, "error", err)
		return 0
	}
	names, err := sandbox.ListDirectory(resolved)
	if err != nil {
		h.logger.Warn("host.list_directory failed", "path", resolved, "error", err)
		return 0
	}
	return writeWASMString(ctx, module, strings.Join(names, "\n"))
}

func (h *Host) hostExecGit(ctx context.Context, module api.Module, argsPtr, argsLen uint32) uint32 {
	argsRaw, ok := readWASMString(module, argsPtr, argsLen)
	if !ok || h.executor == nil {
		return 0
	}
	perms := h.permissionsFor(module.Name())
	if !perms.IsCommandAllowed("git " + argsRaw) {
		h.logger.Warn("host.exec_git denied by plugin permissions", "module", module.Name(), "args", argsRaw)
		return 0
	}
	args := strings.Fields(argsRaw)
	res, err := h.executor.Run(ctx, append([]string{"git"}, args...))
	if err != nil {
		h.logger.Warn("host.exec_git failed", "args", argsRaw, "error", err)
		return 0
	}
	return writeWASMString(ctx, module, res.Stdout)
}

func (h *Host) hostLog(ctx context.Context, module api.Module, levelPtr, levelLen, msgPtr, msgLen uint32) {
	level, ok := readWASMString(module, levelPtr, levelLen)
	if !ok {
		level = "info"
	}
	msg, ok := readWASMString(module, msgPtr, msgLen)
	if !ok {
		h.logger.Warn("host.log: failed to read message from wasm memory")
		return
	}
	switch strings.ToLower(level) {
	case "error":
		h.logger.Error("wasm guest log", "msg", msg)
	case "warn":
		h.logger.Warn("wasm guest log", "msg", msg)
	case "debug":
		h.logger.Debug("wasm guest log", "msg", msg)
	default:
		h.logger.Info("wasm guest log", "msg", msg)
	}
}
