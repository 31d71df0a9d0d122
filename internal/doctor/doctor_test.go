package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rove-run/rove/internal/config"
)

func TestCheckConfig_Nil(t *testing.T) {
	result := checkConfig(context.Background(), nil)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for nil config, got %s", result.Status)
	}
}

func TestCheckConfig_NeedsGenesis(t *testing.T) {
	cfg := &config.Config{NeedsGenesis: true}
	result := checkConfig(context.Background(), cfg)
	if result.Status != "WARN" {
		t.Fatalf("expected WARN, got %s", result.Status)
	}
}

func TestCheckConfig_Loaded(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkConfig(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s", result.Status)
	}
}

func TestCheckKeychain_NilConfig(t *testing.T) {
	result := checkKeychain(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP, got %s", result.Status)
	}
}

func TestCheckKeychain_NoKey(t *testing.T) {
	os.Unsetenv("ROVE_LOCAL_ENDPOINT")
	cfg := &config.Config{}
	cfg.LLM.Provider = "does_not_resolve_a_key"
	result := checkKeychain(context.Background(), cfg)
	if result.Status != "WARN" {
		t.Fatalf("expected WARN when no key resolves, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckKeychain_LocalEndpoint(t *testing.T) {
	t.Setenv("ROVE_LOCAL_ENDPOINT", "http://127.0.0.1:11434")
	cfg := &config.Config{}
	result := checkKeychain(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS with local endpoint set, got %s", result.Status)
	}
}

func TestCheckHomeWritable(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkHomeWritable(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
	if _, err := os.Stat(filepath.Join(cfg.HomeDir, ".write_test")); !os.IsNotExist(err) {
		t.Fatal("expected write-test file to be cleaned up")
	}
}

func TestCheckHomeWritable_Unwritable(t *testing.T) {
	cfg := &config.Config{HomeDir: filepath.Join(t.TempDir(), "does", "not", "exist")}
	result := checkHomeWritable(context.Background(), cfg)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for missing home dir, got %s", result.Status)
	}
}

func TestCheckManifest_Missing(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkManifest(context.Background(), cfg)
	if result.Status != "WARN" {
		t.Fatalf("expected WARN for missing manifest, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckManifest_NilConfig(t *testing.T) {
	result := checkManifest(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP, got %s", result.Status)
	}
}

func TestCheckManifest_Malformed(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "manifest.json"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{HomeDir: home}
	result := checkManifest(context.Background(), cfg)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for malformed manifest, got %s", result.Status)
	}
}

func TestCheckDatabase_NilConfig(t *testing.T) {
	result := checkDatabase(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP, got %s", result.Status)
	}
}

func TestCheckDatabase_Opens(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkDatabase(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckProviderReachability_LocalEndpoint(t *testing.T) {
	t.Setenv("ROVE_LOCAL_ENDPOINT", "127.0.0.1:1")
	cfg := &config.Config{}
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	result := checkProviderReachability(ctx, cfg)
	if result.Name != "Provider reachability" {
		t.Fatalf("expected name Provider reachability, got %s", result.Name)
	}
	// Nothing listens on 127.0.0.1:1, so this should fail fast rather than hang.
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL against an unreachable loopback port, got %s", result.Status)
	}
}

func TestCheckProviderReachability_NilConfig(t *testing.T) {
	result := checkProviderReachability(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP, got %s", result.Status)
	}
}

func TestCheckProviderReachability_CanceledContext(t *testing.T) {
	os.Unsetenv("ROVE_LOCAL_ENDPOINT")
	cfg := &config.Config{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := checkProviderReachability(ctx, cfg)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for canceled context, got %s", result.Status)
	}
}

func TestCheckWASMTarget(t *testing.T) {
	result := checkWASMTarget(context.Background(), nil)
	if result.Status != "PASS" && result.Status != "WARN" {
		t.Fatalf("expected PASS or WARN, got %s", result.Status)
	}
	if result.Name != "WASM target" {
		t.Fatalf("expected name WASM target, got %s", result.Name)
	}
}

func TestRun_AllChecksReport(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	diag := Run(ctx, cfg, "test-version")
	if diag.System.Version != "test-version" {
		t.Fatalf("expected version to be carried through, got %s", diag.System.Version)
	}
	if len(diag.Results) != 7 {
		t.Fatalf("expected 7 checks, got %d", len(diag.Results))
	}
}
