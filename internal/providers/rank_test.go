package providers

import (
	"context"
	"testing"
)

func TestScoreSensitivity_MatchesKnownPatterns(t *testing.T) {
	cases := []string{
		"what's my password for the router",
		"my SSN is 123-45-6789",
		"here is the api_key you asked for",
		"keep this secret between us",
		"read /home/alice/.ssh/id_rsa",
		"my credit card number is",
	}
	for _, c := range cases {
		if !scoreSensitivity(c) {
			t.Errorf("scoreSensitivity(%q) = false, want true", c)
		}
	}
}

func TestScoreSensitivity_FalseForOrdinaryContent(t *testing.T) {
	if scoreSensitivity("what's the weather like today") {
		t.Fatal("expected ordinary content to not be flagged sensitive")
	}
}

func TestScoreComplexity_TrueForLongContent(t *testing.T) {
	long := make([]byte, 801)
	for i := range long {
		long[i] = 'a'
	}
	if !scoreComplexity(string(long)) {
		t.Fatal("expected content over 800 chars to be flagged complex")
	}
}

func TestScoreComplexity_TrueForMultiStepCue(t *testing.T) {
	if !scoreComplexity("first, read the file and then summarize it") {
		t.Fatal("expected multi-step cue to be flagged complex")
	}
}

func TestScoreComplexity_FalseForShortSimpleContent(t *testing.T) {
	if scoreComplexity("hi there") {
		t.Fatal("expected short simple content to not be flagged complex")
	}
}

type fakeAdapter struct {
	name          string
	isLocal       bool
	supportsTools bool
	generate      func() (AssistantMessage, error)
	calls         int
}

func newFakeAdapter(name string, isLocal bool) *fakeAdapter {
	return &fakeAdapter{name: name, isLocal: isLocal, supportsTools: true}
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: f.supportsTools, SupportsStreaming: false, IsLocal: f.isLocal}
}
func (f *fakeAdapter) Generate(_ context.Context, _ []Message, _ []ToolSchema) (AssistantMessage, error) {
	f.calls++
	if f.generate != nil {
		return f.generate()
	}
	return AssistantMessage{}, nil
}
func (f *fakeAdapter) Probe(_ context.Context) error { return nil }

func TestRank_SensitiveContentPromotesLocal(t *testing.T) {
	r := &Router{
		adapters: map[string]Adapter{
			"local":     newFakeAdapter("local", true),
			"anthropic": newFakeAdapter("anthropic", false),
		},
		order:  []string{"anthropic", "local"},
		health: newHealthTracker(),
	}

	ranked := r.rank(TaskContext{Content: "what is my password"})
	if ranked[0] != "local" {
		t.Fatalf("ranked[0] = %q, want local for sensitive content", ranked[0])
	}
}

func TestRank_ComplexContentDemotesLocal(t *testing.T) {
	r := &Router{
		adapters: map[string]Adapter{
			"local":     newFakeAdapter("local", true),
			"anthropic": newFakeAdapter("anthropic", false),
		},
		order:  []string{"local", "anthropic"},
		health: newHealthTracker(),
	}

	long := make([]byte, 900)
	for i := range long {
		long[i] = 'x'
	}
	ranked := r.rank(TaskContext{Content: string(long)})
	if ranked[0] != "anthropic" {
		t.Fatalf("ranked[0] = %q, want anthropic for complex content", ranked[0])
	}
}

func TestRank_CooldownDemotesWithoutExcluding(t *testing.T) {
	r := &Router{
		adapters: map[string]Adapter{
			"local":     newFakeAdapter("local", true),
			"anthropic": newFakeAdapter("anthropic", false),
		},
		order:  []string{"local", "anthropic"},
		health: newHealthTracker(),
	}
	r.health.recordFailure("local")

	ranked := r.rank(TaskContext{Content: "hello"})
	if len(ranked) != 2 {
		t.Fatalf("expected both providers still present, got %v", ranked)
	}
	if ranked[0] != "anthropic" {
		t.Fatalf("ranked[0] = %q, want anthropic (local demoted by cooldown)", ranked[0])
	}
}

func TestSortStableByWeight_PreservesOrderForTies(t *testing.T) {
	names := []string{"a", "b", "c"}
	sortStableByWeight(names, func(string) int { return 0 })
	if names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("expected stable order for equal weights, got %v", names)
	}
}
