package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/crypto"
)

// update is deliberately thin: the self-update downloader (fetching and
// swapping a new release binary) is an external collaborator this build
// does not implement. --check verifies the locally-installed manifest's
// signature against the configured team public key, the same check a
// real updater would run before trusting a freshly downloaded one.
func cmdUpdate(cfg config.Config, args []string, jsonOut bool) int {
	checkOnly := false
	for _, a := range args {
		if a == "--check" {
			checkOnly = true
		}
	}
	if !checkOnly {
		fmt.Fprintln(os.Stderr, "update: no downloader configured in this build; use --check to verify the installed manifest")
		return exitUserError
	}

	path := filepath.Join(cfg.HomeDir, "manifest.json")
	m, err := crypto.LoadManifest(path)
	if err != nil {
		printError(jsonOut, "manifest_load_failed", "update --check", err)
		return exitSysError
	}
	ok, err := m.VerifyManifestSignature()
	if err != nil {
		printError(jsonOut, "manifest_verify_error", "update --check", err)
		return exitSysError
	}

	result := struct {
		Valid       bool   `json:"valid"`
		Version     string `json:"version"`
		GeneratedAt string `json:"generated_at"`
	}{Valid: ok, Version: m.Version, GeneratedAt: m.GeneratedAt}

	if jsonOut {
		data, _ := json.Marshal(result)
		fmt.Println(string(data))
	} else if ok {
		fmt.Printf("manifest %s (generated %s) signature valid\n", m.Version, m.GeneratedAt)
	} else {
		fmt.Println("manifest signature invalid")
	}

	if !ok {
		return exitUserError
	}
	return exitOK
}
