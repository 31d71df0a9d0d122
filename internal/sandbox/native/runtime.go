//go:build linux || darwin

// Native core tools use Go's stdlib "plugin" package, which only
// supports ELF and Mach-O binaries; Windows has no native-runtime build
// of this package (see runtime_windows.go).
package native

import (
	"context"
	"fmt"
	"os"
	"plugin"
	"sync"

	"github.com/rove-run/rove/internal/crypto"
)

// ErrGateDenied is returned when a core tool fails any of the four
// load-time verification gates.
type ErrGateDenied struct {
	Tool   string
	Gate   string
	Reason string
}

func (e *ErrGateDenied) Error() string {
	return fmt.Sprintf("native: tool %q denied at gate %s: %s", e.Tool, e.Gate, e.Reason)
}

// Runtime loads and runs native core tools. Each tool's lifecycle is
// fixed: Start once at load, Handle per invocation, Stop once at
// shutdown or unload.
type Runtime struct {
	manifest *crypto.Manifest
	core     CoreContext

	mu    sync.Mutex
	tools map[string]CoreTool
}

// NewRuntime creates a Runtime. manifest may be nil only in local-dev
// builds where gate enforcement is intentionally skipped.
func NewRuntime(manifest *crypto.Manifest, core CoreContext) *Runtime {
	return &Runtime{manifest: manifest, core: core, tools: map[string]CoreTool{}}
}

// Load runs the four-gate sequence and, if every gate passes, opens the
// plugin .so at path and calls the exported tool's Start.
//
//   - G1: the tool must be declared in the manifest under this name.
//   - G2: the .so's bytes must match the manifest's declared content hash.
//   - G3: the manifest itself must carry a valid signature from the
//     configured team public key (skipped if the manifest's signature is
//     the recognized local-dev placeholder).
//   - G4: the tool's own per-entry signature, over its content hash, must
//     verify against the same team public key.
func (r *Runtime) Load(ctx context.Context, name, path string) error {
	entry, hashMatches, err := r.verifyGates(name, path)
	if err != nil {
		return err
	}
	_ = hashMatches

	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("native: open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup("Tool")
	if err != nil {
		return fmt.Errorf("native: plugin %s missing exported Tool symbol: %w", path, err)
	}
	tool, ok := sym.(CoreTool)
	if !ok {
		toolPtr, ok2 := sym.(*CoreTool)
		if !ok2 {
			return fmt.Errorf("native: plugin %s's Tool symbol does not implement CoreTool", path)
		}
		tool = *toolPtr
	}

	if tool.Name() != name {
		return &ErrGateDenied{Tool: name, Gate: "G1", Reason: fmt.Sprintf("plugin reports name %q, manifest entry is %q", tool.Name(), name)}
	}
	if entry.Version != "" && tool.Version() != entry.Version {
		return &ErrGateDenied{Tool: name, Gate: "G1", Reason: fmt.Sprintf("plugin reports version %q, manifest declares %q", tool.Version(), entry.Version)}
	}

	if err := tool.Start(ctx, r.core); err != nil {
		return fmt.Errorf("native: tool %s Start failed: %w", name, err)
	}

	r.mu.Lock()
	r.tools[name] = tool
	r.mu.Unlock()
	return nil
}

// verifyGates runs G1/G2/G3/G4 and returns the manifest entry for name.
// A nil Runtime.manifest disables enforcement entirely (local dev only).
func (r *Runtime) verifyGates(name, path string) (crypto.CoreToolEntry, bool, error) {
	if r.manifest == nil {
		return crypto.CoreToolEntry{}, true, nil
	}

	entry, found := r.manifest.GetCoreTool(name)
	if !found {
		return crypto.CoreToolEntry{}, false, &ErrGateDenied{Tool: name, Gate: "G1", Reason: "not declared in manifest"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return entry, false, fmt.Errorf("native: read tool binary %s: %w", path, err)
	}
	hashOK, err := crypto.VerifyContentHash(data, entry.Hash)
	if err != nil || !hashOK {
		return entry, false, &ErrGateDenied{Tool: name, Gate: "G2", Reason: "content hash mismatch"}
	}

	if sigOK, err := r.manifest.VerifyManifestSignature(); err != nil || !sigOK {
		return entry, true, &ErrGateDenied{Tool: name, Gate: "G3", Reason: "manifest signature invalid"}
	}

	if sigOK, err := r.manifest.VerifyCoreToolSignature(entry); err != nil || !sigOK {
		return entry, true, &ErrGateDenied{Tool: name, Gate: "G4", Reason: "tool signature invalid"}
	}

	return entry, true, nil
}

// Handle dispatches input to a loaded tool by name.
func (r *Runtime) Handle(ctx context.Context, name string, input ToolInput) (ToolOutput, error) {
	r.mu.Lock()
	tool, ok := r.tools[name]
	r.mu.Unlock()
	if !ok {
		return ToolOutput{}, fmt.Errorf("native: tool %q not loaded", name)
	}
	return tool.Handle(ctx, input)
}

// Unload stops and forgets a loaded tool.
func (r *Runtime) Unload(ctx context.Context, name string) error {
	r.mu.Lock()
	tool, ok := r.tools[name]
	if ok {
		delete(r.tools, name)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return tool.Stop(ctx)
}

// Loaded reports whether a tool is currently loaded.
func (r *Runtime) Loaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	return ok
}

// Close stops every loaded tool, best-effort, collecting nothing:
// shutdown proceeds regardless of individual Stop failures, which are
// the caller's (the daemon shutdown sequence's) concern to log.
func (r *Runtime) Close(ctx context.Context) {
	r.mu.Lock()
	tools := make(map[string]CoreTool, len(r.tools))
	for k, v := range r.tools {
		tools[k] = v
	}
	r.tools = map[string]CoreTool{}
	r.mu.Unlock()

	for _, tool := range tools {
		_ = tool.Stop(ctx)
	}
}
