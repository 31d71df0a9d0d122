//go:build linux || darwin

package native

import (
	"context"
	"os"
	"testing"

	"github.com/rove-run/rove/internal/crypto"
)

func TestRuntime_VerifyGates_NilManifestSkipsEnforcement(t *testing.T) {
	r := NewRuntime(nil, CoreContext{})
	_, ok, err := r.verifyGates("anything", "/does/not/matter")
	if err != nil || !ok {
		t.Fatalf("a nil manifest must disable gate enforcement, got ok=%v err=%v", ok, err)
	}
}

func TestRuntime_VerifyGates_G1DeniesUndeclaredTool(t *testing.T) {
	manifest := &crypto.Manifest{Version: "1"}
	r := NewRuntime(manifest, CoreContext{})
	_, _, err := r.verifyGates("undeclared", "/tmp/nonexistent")
	if err == nil {
		t.Fatal("expected gate G1 denial for a tool not declared in the manifest")
	}
	ge, ok := err.(*ErrGateDenied)
	if !ok || ge.Gate != "G1" {
		t.Fatalf("expected G1 denial, got %v", err)
	}
}

func TestRuntime_VerifyGates_G2DeniesHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/tool.so"
	if err := os.WriteFile(path, []byte("binary content"), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := &crypto.Manifest{
		Version:   "1",
		CoreTools: []crypto.CoreToolEntry{{Name: "calculator", Hash: crypto.HashBytes([]byte("different content"))}},
	}
	r := NewRuntime(manifest, CoreContext{})
	_, _, err := r.verifyGates("calculator", path)
	if err == nil {
		t.Fatal("expected gate G2 denial for content hash mismatch")
	}
	ge, ok := err.(*ErrGateDenied)
	if !ok || ge.Gate != "G2" {
		t.Fatalf("expected G2 denial, got %v", err)
	}
}

func TestRuntime_Loaded_FalseForUnknownTool(t *testing.T) {
	r := NewRuntime(nil, CoreContext{})
	if r.Loaded("anything") {
		t.Error("expected Loaded to be false before any Load call")
	}
}

func TestRuntime_Handle_ErrorsWhenNotLoaded(t *testing.T) {
	r := NewRuntime(nil, CoreContext{})
	if _, err := r.Handle(context.Background(), "missing", ToolInput{}); err == nil {
		t.Error("expected an error dispatching to an unloaded tool")
	}
}

func TestRuntime_Unload_NoOpWhenNotLoaded(t *testing.T) {
	r := NewRuntime(nil, CoreContext{})
	if err := r.Unload(context.Background(), "missing"); err != nil {
		t.Errorf("Unload of an unloaded tool should be a no-op, got %v", err)
	}
}
