// Package safety implements the Injection Detector and Risk Assessor
// gates of the security pipeline.
package safety

import (
	"regexp"
	"strings"
)

// Action indicates the recommended response to a detected pattern. Kept
// as a three-state enum (rather than a bare bool) since some callers —
// the confirmation flow in particular — want to distinguish "flag and
// escalate" from "refuse outright".
type Action int

const (
	ActionAllow Action = iota
	ActionWarn
	ActionBlock
)

// CheckResult is the outcome of an injection scan.
type CheckResult struct {
	Action  Action
	Reason  string
	Pattern string // which pattern matched, for the audit log
}

// Sanitizer is the Injection Detector: it scans prompt and tool-result
// content against a fixed pattern set and reports a match without
// rewriting the content. Escalating the call's risk tier on a match is
// the Risk Assessor's job (see risk.go), not the Sanitizer's.
type Sanitizer struct{}

// NewSanitizer creates a new Sanitizer instance.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

type injectionPattern struct {
	re     *regexp.Regexp
	reason string
}

// injectionPatterns is the fixed, case-insensitive pattern set: the five
// named phrases and their close variants.
var injectionPatterns = []injectionPattern{
	{
		re:     regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(the\s+)?previous\s+instructions?`),
		reason: "ignore previous instructions",
	},
	{
		re:     regexp.MustCompile(`(?i)forget\s+(all\s+of\s+)?your\s+instructions?`),
		reason: "forget your instructions",
	},
	{
		re:     regexp.MustCompile(`(?i)\bnew\s+instructions?\s*[:\-]`),
		reason: "new instructions",
	},
	{
		re:     regexp.MustCompile(`(?i)override\s+(the\s+)?system\s+prompt`),
		reason: "override system prompt",
	},
	{
		re:     regexp.MustCompile(`(?i)disregard\s+.{0,40}\babove\b`),
		reason: "disregard ... above",
	},
}

// Check scans input for any known injection pattern. A match always
// produces ActionWarn — the Sanitizer itself never blocks; it is the
// Risk Assessor's escalation rule that turns a match into a tier bump.
func (s *Sanitizer) Check(input string) CheckResult {
	if strings.TrimSpace(input) == "" {
		return CheckResult{Action: ActionAllow}
	}
	for _, pat := range injectionPatterns {
		if pat.re.MatchString(input) {
			return CheckResult{Action: ActionWarn, Reason: pat.reason, Pattern: pat.re.String()}
		}
	}
	return CheckResult{Action: ActionAllow}
}

// Matched reports whether the check found an injection pattern.
func (r CheckResult) Matched() bool {
	return r.Action != ActionAllow
}
