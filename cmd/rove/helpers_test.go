package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rove-run/rove/internal/doctor"
)

// captureStderr redirects os.Stderr for the duration of fn and returns
// everything written to it.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestTruncate_ShortPassesThrough(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}

func TestTruncate_LongGetsEllipsis(t *testing.T) {
	got := truncate("this is a long prompt that exceeds the limit", 10)
	if got != "this is a ..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

func TestTruncate_ExactLength(t *testing.T) {
	if got := truncate("exact", 5); got != "exact" {
		t.Fatalf("expected no truncation at exact length, got %q", got)
	}
}

func TestPick(t *testing.T) {
	if got := pick(true, "explicit", "fallback"); got != "explicit" {
		t.Fatalf("expected explicit value, got %q", got)
	}
	if got := pick(false, "explicit", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback when use is false, got %q", got)
	}
	if got := pick(true, "", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback when value is empty, got %q", got)
	}
}

func TestPrintError_JSONEnvelopeShape(t *testing.T) {
	out := captureStderr(t, func() {
		printError(true, "task_failed", "run", errors.New("boom"))
	})

	var env jsonErrorEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &env); err != nil {
		t.Fatalf("expected valid JSON envelope, got %q: %v", out, err)
	}
	if env.ErrorKind != "task_failed" || env.Message != "boom" || env.Context != "run" {
		t.Fatalf("unexpected envelope contents: %+v", env)
	}
}

func TestPrintError_PlainText(t *testing.T) {
	out := captureStderr(t, func() {
		printError(false, "task_failed", "run", errors.New("boom"))
	})
	if !strings.Contains(out, "boom") {
		t.Fatalf("expected plain-text error to mention the underlying error, got %q", out)
	}
}

func TestStatusExit_AllPass(t *testing.T) {
	diag := doctor.Diagnosis{Results: []doctor.CheckResult{
		{Name: "a", Status: "PASS"},
		{Name: "b", Status: "WARN"},
	}}
	if got := statusExit(diag); got != exitOK {
		t.Fatalf("expected exitOK, got %d", got)
	}
}

func TestStatusExit_OneFail(t *testing.T) {
	diag := doctor.Diagnosis{Results: []doctor.CheckResult{
		{Name: "a", Status: "PASS"},
		{Name: "b", Status: "FAIL"},
	}}
	if got := statusExit(diag); got != exitSysError {
		t.Fatalf("expected exitSysError, got %d", got)
	}
}
