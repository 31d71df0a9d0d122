package crypto

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Manifest is the signed inventory of core tools and plugins the daemon
// is permitted to load. The top-level signature covers the canonical
// JSON serialization of the manifest with the signature field itself
// blanked out.
type Manifest struct {
	Version       string          `json:"version"`
	TeamPublicKey string          `json:"team_public_key"`
	Signature     string          `json:"signature"`
	GeneratedAt   string          `json:"generated_at"`
	CoreTools     []CoreToolEntry `json:"core_tools"`
	Plugins       []PluginEntry   `json:"plugins"`
}

// CoreToolEntry describes one native (in-process, code-signed) tool.
type CoreToolEntry struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Path      string `json:"path"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	Platform  string `json:"platform"`
}

// IsCurrentPlatform reports whether this entry targets the running GOOS/GOARCH.
func (c CoreToolEntry) IsCurrentPlatform() bool {
	return c.Platform == runtime.GOOS+"-"+runtime.GOARCH
}

// PluginEntry describes one WASM plugin.
type PluginEntry struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Path        string            `json:"path"`
	Hash        string            `json:"hash"`
	Permissions PluginPermissions `json:"permissions"`
}

// PluginPermissions bounds what a plugin's host-function calls may do.
// Zero-value permissions are not safe defaults; always start from
// DefaultPluginPermissions.
type PluginPermissions struct {
	AllowedPaths      []string `json:"allowed_paths"`
	DeniedPaths       []string `json:"denied_paths"`
	MaxFileSize       int64    `json:"max_file_size"`
	CanExecute        bool     `json:"can_execute"`
	AllowedCommands   []string `json:"allowed_commands,omitempty"`
	DeniedFlags       []string `json:"denied_flags,omitempty"`
	MaxExecutionTime  int64    `json:"max_execution_time"` // seconds
}

// DefaultPluginPermissions returns the conservative default a plugin gets
// when its manifest entry omits permissions: workspace-only file access,
// sensitive paths explicitly denied, no command execution.
func DefaultPluginPermissions() PluginPermissions {
	return PluginPermissions{
		AllowedPaths:     []string{"workspace"},
		DeniedPaths:      []string{".ssh", ".env", "credentials", "id_rsa", "id_ed25519"},
		MaxFileSize:      10 * 1024 * 1024,
		CanExecute:       false,
		DeniedFlags:      []string{"--force", "-rf", "--delete", "--hard"},
		MaxExecutionTime: 30,
	}
}

// IsPathAllowed applies the permission's deny-first, then-allow logic: a
// path containing any denied substring is rejected outright; otherwise an
// empty allow-list permits everything, and a non-empty one requires a
// prefix match (the literal entry "workspace" always matches, since
// callers pass workspace-relative paths).
func (p PluginPermissions) IsPathAllowed(path string) bool {
	for _, denied := range p.DeniedPaths {
		if denied != "" && strings.Contains(path, denied) {
			return false
		}
	}
	if len(p.AllowedPaths) == 0 {
		return true
	}
	for _, allowed := range p.AllowedPaths {
		if allowed == "workspace" || strings.HasPrefix(path, allowed) {
			return true
		}
	}
	return false
}

// IsCommandAllowed applies can_execute, then denied-flag, then
// allowed-command prefix checks, in that order.
func (p PluginPermissions) IsCommandAllowed(command string) bool {
	if !p.CanExecute {
		return false
	}
	for _, flag := range p.DeniedFlags {
		if flag != "" && strings.Contains(command, flag) {
			return false
		}
	}
	if len(p.AllowedCommands) == 0 {
		return true
	}
	for _, allowed := range p.AllowedCommands {
		if strings.HasPrefix(command, allowed) {
			return true
		}
	}
	return false
}

// GetCoreTool looks up a core tool entry by name.
func (m *Manifest) GetCoreTool(name string) (CoreToolEntry, bool) {
	for _, t := range m.CoreTools {
		if t.Name == name {
			return t, true
		}
	}
	return CoreToolEntry{}, false
}

// GetPlugin looks up a plugin entry by name.
func (m *Manifest) GetPlugin(name string) (PluginEntry, bool) {
	for _, p := range m.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return PluginEntry{}, false
}

// LoadManifest parses a manifest file from disk (G1: manifest-declared
// entries are the only tools/plugins the runtime will ever load).
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("crypto: parse manifest: %w", err)
	}
	return &m, nil
}

// canonicalForSigning serializes the manifest with its signature field
// blanked out, the same bytes the signer covers when producing Signature.
func (m *Manifest) canonicalForSigning() ([]byte, error) {
	cp := *m
	cp.Signature = ""
	return json.Marshal(&cp)
}

// VerifyManifestSignature checks the manifest's top-level Ed25519
// signature against its own TeamPublicKey. A placeholder signature
// (written by a local-dev signing run) is reported via the ok=false,
// err=nil pair rather than a hard error, since it is a valid manifest
// state, just not a trusted one.
func (m *Manifest) VerifyManifestSignature() (bool, error) {
	if isPlaceholderSignature(m.Signature) {
		return false, nil
	}
	payload, err := m.canonicalForSigning()
	if err != nil {
		return false, err
	}
	return Verify(m.TeamPublicKey, m.Signature, payload)
}

// VerifyCoreToolSignature checks a core tool entry's own per-binary
// signature (G3 for native tools is the manifest signature; G4 is this
// per-tool signature) against the manifest's team key.
func (m *Manifest) VerifyCoreToolSignature(entry CoreToolEntry) (bool, error) {
	payload := []byte(entry.Name + "|" + entry.Version + "|" + entry.Path + "|" + entry.Hash + "|" + entry.Platform)
	return Verify(m.TeamPublicKey, entry.Signature, payload)
}

// VerifyContentHash checks that data matches entry's recorded hash (G2).
func VerifyContentHash(data []byte, taggedHash string) (bool, error) {
	return VerifyHash(data, taggedHash)
}
