package providers

import (
	"regexp"
	"strings"
)

// sensitivityKeywords are the heuristic's regex+keyword list for
// secrets, personal data, and local paths: a hit ranks local providers
// first regardless of declared cost preference.
var sensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpassword\b`),
	regexp.MustCompile(`(?i)\bssn\b|\bsocial security\b`),
	regexp.MustCompile(`(?i)\bapi[_\-]?key\b`),
	regexp.MustCompile(`(?i)\bsecret\b`),
	regexp.MustCompile(`(?i)/(home|Users)/[^/\s]+`),
	regexp.MustCompile(`(?i)\bcredit card\b|\bcvv\b`),
}

// complexityCues signal a multi-step task that benefits from a stronger
// cloud model over a faster local one.
var complexityCues = []string{" then ", " and also ", " after that ", " first, ", " next, "}

// TaskContext carries the ranking inputs the router derives from a
// task's content.
type TaskContext struct {
	Content         string
	CostPreference  string // "cheap", "balanced", "quality" — empty defaults to "balanced"
	RequiresTools   bool
}

func scoreSensitivity(content string) bool {
	for _, pat := range sensitivityPatterns {
		if pat.MatchString(content) {
			return true
		}
	}
	return false
}

func scoreComplexity(content string) bool {
	if len(content) > 800 {
		return true
	}
	lower := strings.ToLower(content)
	for _, cue := range complexityCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// rank orders adapter names for one task: sensitivity promotes local
// providers to the front; complexity promotes stronger cloud providers
// (anthropic/openai/gemini ahead of local and NIM); health cooldown
// demotes a provider to the back regardless of the other scores.
func (r *Router) rank(task TaskContext) []string {
	base := make([]string, len(r.order))
	copy(base, r.order)

	sensitive := scoreSensitivity(task.Content)
	multiStep := scoreComplexity(task.Content)

	weight := func(name string) int {
		w := 0
		if sensitive && r.isLocal(name) {
			w -= 100
		}
		if multiStep && !r.isLocal(name) {
			w -= 50
		}
		if task.CostPreference == "cheap" && r.isLocal(name) {
			w -= 20
		}
		if r.health.inCooldown(name) {
			w += 1000
		}
		return w
	}

	sortStableByWeight(base, weight)
	return base
}

func (r *Router) isLocal(name string) bool {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a.Capabilities().IsLocal
		}
	}
	return false
}

// sortStableByWeight performs an insertion sort (the candidate lists are
// tiny, at most a handful of providers) ordering by ascending weight
// while preserving the original relative order of equal-weight entries.
func sortStableByWeight(names []string, weight func(string) int) {
	for i := 1; i < len(names); i++ {
		j := i
		for j > 0 && weight(names[j-1]) > weight(names[j]) {
			names[j-1], names[j] = names[j], names[j-1]
			j--
		}
	}
}
