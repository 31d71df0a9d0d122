package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoUsableProvider is returned once every ranked candidate has been
// tried and failed for a single Generate call.
var ErrNoUsableProvider = errors.New("providers: no usable provider")

// Router holds several Adapters simultaneously and ranks/fails over
// between them per task, matching the rank outcome to one of the held
// adapters by name. DefaultOrder is local, OpenAI-family,
// Anthropic-family, Gemini-family, NVIDIA NIM — the spec's stated
// default weighting.
var DefaultOrder = []string{"local", "openai", "anthropic", "gemini", "nim"}

// defaultCallTimeout bounds a single adapter call: the failover policy
// treats a timeout as retryable, so the router moves to the next
// candidate rather than hang on one provider.
const defaultCallTimeout = 300 * time.Second

// Router is the Provider Router: §4.3's ranking, failover, and
// health-cooldown logic.
type Router struct {
	adapters    map[string]Adapter
	order       []string
	health      *healthTracker
	logger      *slog.Logger
	callTimeout time.Duration
}

// New creates a Router over the given adapters, keyed by their own
// Name(). order controls the default (pre-ranking) priority; nil uses
// DefaultOrder. Adapters not present in order are appended after it, in
// the order they were passed, so an unrecognized provider is never
// silently dropped from the ranking.
func New(adapters []Adapter, order []string, logger *slog.Logger) *Router {
	if order == nil {
		order = DefaultOrder
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	full := make([]string, 0, len(byName))
	seen := map[string]bool{}
	for _, name := range order {
		if _, ok := byName[name]; ok {
			full = append(full, name)
			seen[name] = true
		}
	}
	for _, a := range adapters {
		if !seen[a.Name()] {
			full = append(full, a.Name())
			seen[a.Name()] = true
		}
	}
	return &Router{adapters: byName, order: full, health: newHealthTracker(), logger: logger, callTimeout: defaultCallTimeout}
}

// Generate runs the ranked candidate list in order, retrying on the next
// candidate for retryable failures and for auth failures (removed from
// this call's ranking, but not demoted via cooldown — an auth failure
// says nothing about the provider's transient health). A content-policy
// refusal is returned immediately without trying another provider: the
// same prompt would be refused everywhere.
func (r *Router) Generate(ctx context.Context, messages []Message, tools []ToolSchema, task TaskContext) (AssistantMessage, string, error) {
	ranked := r.rank(task)

	var lastErr error
	for _, name := range ranked {
		adapter, ok := r.adapters[name]
		if !ok {
			continue
		}
		if task.RequiresTools && !adapter.Capabilities().SupportsTools {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		msg, err := adapter.Generate(callCtx, messages, tools)
		cancel()
		if err == nil {
			r.health.recordSuccess(name)
			return msg, name, nil
		}

		lastErr = err
		class := classify(err)
		r.logger.Warn("provider generate failed", "provider", name, "class", string(class), "error", err)

		switch class {
		case ErrorClassContentPolicy:
			return AssistantMessage{}, name, fmt.Errorf("providers: %s refused the request: %w", name, err)
		case ErrorClassAuth:
			// Not a transient-health signal: skip for this call only, no cooldown bump.
			continue
		default:
			r.health.recordFailure(name)
			continue
		}
	}

	if lastErr != nil {
		return AssistantMessage{}, "", fmt.Errorf("%w: last error: %v", ErrNoUsableProvider, lastErr)
	}
	return AssistantMessage{}, "", ErrNoUsableProvider
}

func classify(err error) ErrorClass {
	var ce ClassifiableError
	if errors.As(err, &ce) {
		return ce.Class()
	}
	return ErrorClassRetryable
}

// Probe checks every held adapter's liveness without affecting ranking.
func (r *Router) Probe(ctx context.Context) map[string]error {
	results := make(map[string]error, len(r.adapters))
	for name, a := range r.adapters {
		results[name] = a.Probe(ctx)
	}
	return results
}
