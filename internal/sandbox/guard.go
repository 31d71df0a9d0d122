// Package sandbox implements the File-System Guard and Command Executor
// that every plugin runtime and built-in tool calls through before
// touching the host: canonicalized path checks against an allow/deny
// list, and direct-argv command execution with no shell interpretation.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Guard enforces filesystem access for one workspace: a path must
// resolve inside the workspace root, must not match a denied substring
// before or after symlink resolution, and must match an allowed prefix
// when an allow-list is configured.
type Guard struct {
	WorkspaceRoot string
	AllowedPaths  []string
	DeniedPaths   []string
	MaxFileSize   int64
}

// NewGuard creates a Guard rooted at workspaceRoot, which must already be
// an absolute, existing path.
func NewGuard(workspaceRoot string, allowed, denied []string, maxFileSize int64) *Guard {
	return &Guard{
		WorkspaceRoot: workspaceRoot,
		AllowedPaths:  allowed,
		DeniedPaths:   denied,
		MaxFileSize:   maxFileSize,
	}
}

// ErrPathDenied is returned by Resolve when a path fails any guard check.
type ErrPathDenied struct {
	Path   string
	Reason string
}

func (e *ErrPathDenied) Error() string {
	return fmt.Sprintf("sandbox: path %q denied: %s", e.Path, e.Reason)
}

// Resolve runs the four-step check and returns the canonicalized,
// absolute path on success:
//  1. pre-canonical deny check, against the raw input
//  2. canonicalize via symlink resolution
//  3. post-canonical deny check, against the resolved path (catches a
//     symlink that points at a denied location)
//  4. workspace-boundary check: the resolved path must be inside
//     WorkspaceRoot, or match an explicit AllowedPaths prefix
func (g *Guard) Resolve(rawPath string) (string, error) {
	if rawPath == "" {
		return "", &ErrPathDenied{Path: rawPath, Reason: "empty path"}
	}

	if hit := firstDeniedMatch(rawPath, g.DeniedPaths); hit != "" {
		return "", &ErrPathDenied{Path: rawPath, Reason: "matches denied pattern " + hit}
	}

	abs := rawPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.WorkspaceRoot, abs)
	}

	resolved, err := canonicalize(abs)
	if err != nil {
		return "", &ErrPathDenied{Path: rawPath, Reason: "cannot canonicalize: " + err.Error()}
	}

	if hit := firstDeniedMatch(resolved, g.DeniedPaths); hit != "" {
		return "", &ErrPathDenied{Path: rawPath, Reason: "resolved path matches denied pattern " + hit}
	}

	if !g.withinBoundary(resolved) {
		return "", &ErrPathDenied{Path: rawPath, Reason: "outside workspace boundary"}
	}

	return resolved, nil
}

// canonicalize resolves symlinks in the deepest existing ancestor of
// path and rejoins any not-yet-created suffix, so a write_file call that
// targets a not-yet-existing file is not rejected outright.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(abs)
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		// Parent may not exist yet (e.g. a fresh write_file target);
		// walk up until we find an ancestor that does.
		resolvedDir, err = nearestExistingAncestor(dir)
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(resolvedDir, filepath.Base(abs)), nil
}

func nearestExistingAncestor(dir string) (string, error) {
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return resolved, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		dir = parent
	}
}

func (g *Guard) withinBoundary(resolved string) bool {
	if within(resolved, g.WorkspaceRoot) {
		return true
	}
	for _, allowed := range g.AllowedPaths {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if resolvedAllowed, err := filepath.EvalSymlinks(allowedAbs); err == nil {
			allowedAbs = resolvedAllowed
		}
		if within(resolved, allowedAbs) {
			return true
		}
	}
	return false
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func firstDeniedMatch(path string, denied []string) string {
	for _, pattern := range denied {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.Contains(path, pattern) {
			return pattern
		}
	}
	return ""
}
