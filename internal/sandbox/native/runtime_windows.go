//go:build windows

package native

import (
	"context"
	"fmt"

	"github.com/rove-run/rove/internal/crypto"
)

// Runtime is a stub on Windows: Go's stdlib "plugin" package only
// supports ELF and Mach-O binaries, so native core tools are a
// Linux/macOS-only feature. WASM plugins remain fully available.
type Runtime struct{}

// NewRuntime returns a Runtime whose Load always fails: there is no
// native core tool support on this platform.
func NewRuntime(manifest *crypto.Manifest, core CoreContext) *Runtime {
	return &Runtime{}
}

func (r *Runtime) Load(ctx context.Context, name, path string) error {
	return fmt.Errorf("native: core tools are not supported on this platform")
}

func (r *Runtime) Handle(ctx context.Context, name string, input ToolInput) (ToolOutput, error) {
	return ToolOutput{}, fmt.Errorf("native: core tools are not supported on this platform")
}

func (r *Runtime) Unload(ctx context.Context, name string) error { return nil }

func (r *Runtime) Loaded(name string) bool { return false }

func (r *Runtime) Close(ctx context.Context) {}
