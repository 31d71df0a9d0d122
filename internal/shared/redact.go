package shared

import (
	"regexp"
	"strings"
)

// secretPattern pairs a regex with the kind tag embedded in its replacement.
type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

// secretPatterns implements the Secret Scrubber's fixed pattern set. Order
// matters: bearer tokens are checked before the generic provider-key
// patterns so a "Bearer sk-..." string is tagged as a bearer token, not an
// OpenAI key, matching how the value would actually be presented to a log
// line or a tool result.
var secretPatterns = []secretPattern{
	{kind: "bearer", re: regexp.MustCompile(`Bearer\s+[^\s]{20,}`)},
	{kind: "openai_key", re: regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{kind: "google_key", re: regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{kind: "telegram_token", re: regexp.MustCompile(`[0-9]{10}:[A-Za-z0-9\-_]{35}`)},
	{kind: "github_token", re: regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`)},
}

// Redact replaces every match of a known secret pattern in input with a
// [REDACTED:<kind>] token. Applied to every outbound observable string: log
// lines, tool results returned to the model, and step content before it is
// persisted.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		if !pat.re.MatchString(result) {
			continue
		}
		token := "[REDACTED:" + pat.kind + "]"
		result = pat.re.ReplaceAllString(result, token)
	}
	return result
}

// Contains reports whether input carries any known secret pattern, without
// allocating a redacted copy. Useful for the injection/gate audit path that
// only needs to know whether a flag should be raised.
func Contains(input string) bool {
	for _, pat := range secretPatterns {
		if pat.re.MatchString(input) {
			return true
		}
	}
	return false
}

// RedactEnvValue returns redactedValue if key looks like a secret-bearing
// environment variable name, otherwise returns value unchanged.
func RedactEnvValue(key, value string) string {
	keyLower := strings.ToLower(key)
	sensitiveKeys := []string{"api_key", "apikey", "secret", "token", "password", "credential"}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return "[REDACTED:env]"
		}
	}
	return value
}
