// Package doctor runs read-only diagnostics against a rove installation:
// configuration, keychain/API-key resolution, provider reachability,
// database sanity, and WASM execution mode.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/crypto"
	"github.com/rove-run/rove/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes every diagnostic check against cfg and returns a report
// a CLI caller can print as text or JSON.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkKeychain,
		checkDatabase,
		checkHomeWritable,
		checkManifest,
		checkProviderReachability,
		checkWASMTarget,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "configuration missing, run setup"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("loaded from %s", cfg.HomeDir)}
}

// checkKeychain reports whether a usable API key resolves for the
// configured provider. The keychain itself is an external collaborator
// this build does not implement; resolution currently falls through to
// config.Config's env-var/config-file surface.
func checkKeychain(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Keychain", Status: "SKIP", Message: "config missing"}
	}
	provider, _, apiKey := cfg.ResolveLLMConfig()
	if apiKey != "" {
		return CheckResult{Name: "Keychain", Status: "PASS", Message: fmt.Sprintf("resolved a key for %s", provider)}
	}
	if os.Getenv("ROVE_LOCAL_ENDPOINT") != "" {
		return CheckResult{Name: "Keychain", Status: "PASS", Message: "no key required: local endpoint configured"}
	}
	return CheckResult{
		Name:    "Keychain",
		Status:  "WARN",
		Message: fmt.Sprintf("no API key resolved for provider %q", provider),
		Detail:  "set the provider's env var, providers.<name>.api_key in config.yaml, or ROVE_LOCAL_ENDPOINT",
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.NeedsGenesis {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "config missing"}
	}
	dbPath := filepath.Join(cfg.HomeDir, "rove.db")
	store, err := persistence.Open(dbPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("open failed: %v", err)}
	}
	defer store.Close()

	if _, err := store.ListRecentTasks(ctx, 1); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: fmt.Sprintf("%s reachable, schema valid", dbPath)}
}

func checkHomeWritable(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "home directory writable"}
}

// checkManifest verifies the signed manifest, if present, against the
// configured team public key — the same gate native/wasm tool loading
// enforces at runtime.
func checkManifest(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Manifest", Status: "SKIP", Message: "config missing"}
	}
	path := filepath.Join(cfg.HomeDir, "manifest.json")
	m, err := crypto.LoadManifest(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CheckResult{Name: "Manifest", Status: "WARN", Message: "no manifest.json found, running with no verified core tools or plugins"}
		}
		return CheckResult{Name: "Manifest", Status: "FAIL", Message: fmt.Sprintf("load failed: %v", err)}
	}
	ok, err := m.VerifyManifestSignature()
	if err != nil {
		return CheckResult{Name: "Manifest", Status: "FAIL", Message: fmt.Sprintf("signature check error: %v", err)}
	}
	if !ok {
		return CheckResult{Name: "Manifest", Status: "FAIL", Message: "manifest signature does not verify against the team public key"}
	}
	return CheckResult{
		Name:    "Manifest",
		Status:  "PASS",
		Message: fmt.Sprintf("signature valid, %d core tool(s), %d plugin(s)", len(m.CoreTools), len(m.Plugins)),
	}
}

func checkProviderReachability(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Provider reachability", Status: "SKIP", Message: "config missing"}
	}
	if localURL := os.Getenv("ROVE_LOCAL_ENDPOINT"); localURL != "" {
		return probeTCP("Provider reachability", localURL)
	}

	provider, _, _ := cfg.ResolveLLMConfig()
	endpoints := map[string]string{
		"google":    "generativelanguage.googleapis.com:443",
		"anthropic": "api.anthropic.com:443",
		"openai":    "api.openai.com:443",
		"nim":       "integrate.api.nvidia.com:443",
	}
	host, ok := endpoints[provider]
	if !ok {
		host = endpoints["anthropic"]
	}
	return probeTCPContext(ctx, "Provider reachability", host)
}

func probeTCP(name, hostport string) CheckResult {
	return probeTCPContext(context.Background(), name, hostport)
}

func probeTCPContext(ctx context.Context, name, hostport string) CheckResult {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	d := net.Dialer{}
	conn, err := d.DialContext(dialCtx, "tcp", hostport)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    name,
			Status:  "FAIL",
			Message: fmt.Sprintf("dial %s failed: %v", hostport, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	conn.Close()
	return CheckResult{
		Name:    name,
		Status:  "PASS",
		Message: fmt.Sprintf("reached %s (%dms)", hostport, latency.Milliseconds()),
	}
}

// checkWASMTarget reports whether wazero's ahead-of-time compiler is
// available for this GOOS/GOARCH, falling back to its pure-Go
// interpreter (slower, but still correct) otherwise.
func checkWASMTarget(_ context.Context, _ *config.Config) CheckResult {
	compiled := (runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64") &&
		(runtime.GOOS == "linux" || runtime.GOOS == "darwin" || runtime.GOOS == "windows")
	if compiled {
		return CheckResult{
			Name:    "WASM target",
			Status:  "PASS",
			Message: fmt.Sprintf("%s/%s supports wazero's compiled execution mode", runtime.GOOS, runtime.GOARCH),
		}
	}
	return CheckResult{
		Name:    "WASM target",
		Status:  "WARN",
		Message: fmt.Sprintf("%s/%s falls back to wazero's interpreter (no AOT compiler for this target)", runtime.GOOS, runtime.GOARCH),
	}
}
