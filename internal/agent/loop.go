// Package agent implements the Agent Core: the think/act/observe loop
// that drives a task to completion by sampling the provider router,
// dispatching any requested tool calls through the registry, and
// persisting every step.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/rove-run/rove/internal/bus"
	"github.com/rove-run/rove/internal/memory"
	otelmetrics "github.com/rove-run/rove/internal/otel"
	"github.com/rove-run/rove/internal/persistence"
	"github.com/rove-run/rove/internal/providers"
	"github.com/rove-run/rove/internal/ratelimit"
	"github.com/rove-run/rove/internal/registry"
)

const (
	defaultMaxIterations  = 20
	defaultContextCeiling = 8000

	// loop-detection window and thresholds: last K=4 tool calls, ≥3
	// consecutive repeats, or two pairs alternating for ≥4 rounds.
	loopDetectWindow    = 4
	loopDetectRepeat    = 3
	loopDetectAlternate = 4

	// MaxResultSizeBytes bounds a single tool result or final answer at
	// 5MB: an unbounded tool result (a directory dump, a huge file read)
	// would otherwise blow the working-memory ceiling and the persisted
	// step alike.
	MaxResultSizeBytes = 5 * 1024 * 1024
)

// ErrResultSizeExceeded is returned when a tool result or the model's
// final answer exceeds MaxResultSizeBytes. Unlike a dispatch error, this
// is not fed back to the model as a recoverable tool_result — the task
// fails outright, since there is no smaller answer to retry with.
var ErrResultSizeExceeded = errors.New("agent: result exceeds maximum size")

// ErrIterationLimitExceeded is returned when N iterations elapse
// without the model producing a non-tool-call response.
var ErrIterationLimitExceeded = errors.New("agent: iteration limit exceeded")

// ErrLoopDetected is returned when the same tool call, or an
// alternating pair of them, repeats beyond threshold.
var ErrLoopDetected = errors.New("agent: repeated tool call pattern detected")

// ErrCancelled is returned when the context is cancelled mid-task
// (daemon shutdown).
var ErrCancelled = errors.New("agent: task cancelled")

// TaskInput is one request to run the loop.
type TaskInput struct {
	Prompt         string
	SystemPrompt   string
	Source         string // rate-limit/audit source key passed through to registry.Dispatch
	RemoteOrigin   bool
	CostPreference string
	Confirm        registry.Confirmer
}

// TaskResult is the loop's successful outcome.
type TaskResult struct {
	TaskID       string
	FinalMessage string
	Provider     string
	Duration     time.Duration
}

// Loop is the Agent Core.
type Loop struct {
	router   *providers.Router
	registry *registry.Registry
	store    *persistence.Store
	bus      *bus.Bus
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *otelmetrics.Metrics

	maxIterations  int
	contextCeiling int
}

// Config wires a Loop's dependencies.
type Config struct {
	Router         *providers.Router
	Registry       *registry.Registry
	Store          *persistence.Store
	Bus            *bus.Bus
	Logger         *slog.Logger
	Tracer         trace.Tracer         // nil uses the global no-op tracer
	Metrics        *otelmetrics.Metrics // nil disables metric recording
	MaxIterations  int                  // default 20
	ContextCeiling int                  // default 8000 tokens
}

// New creates a Loop.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer("agent")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.ContextCeiling <= 0 {
		cfg.ContextCeiling = defaultContextCeiling
	}
	return &Loop{
		router:         cfg.Router,
		registry:       cfg.Registry,
		store:          cfg.Store,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		tracer:         cfg.Tracer,
		metrics:        cfg.Metrics,
		maxIterations:  cfg.MaxIterations,
		contextCeiling: cfg.ContextCeiling,
	}
}

// Run drives the task to completion or a terminal failure.
func (l *Loop) Run(ctx context.Context, task TaskInput) (*TaskResult, error) {
	taskID := uuid.NewString()
	started := time.Now()

	ctx, span := otelmetrics.StartServerSpan(ctx, l.tracer, "agent.run",
		otelmetrics.AttrTaskID.String(taskID),
		attribute.String("rove.source", task.Source),
	)
	defer span.End()

	if l.metrics != nil {
		l.metrics.ActiveLoops.Add(ctx, 1)
		defer l.metrics.ActiveLoops.Add(ctx, -1)
	}
	defer func() {
		if l.metrics != nil {
			l.metrics.TaskDuration.Record(ctx, time.Since(started).Seconds())
		}
	}()

	if l.store != nil {
		if err := l.store.CreateTask(ctx, taskID, task.Prompt); err != nil {
			return nil, fmt.Errorf("agent: create task: %w", err)
		}
		if err := l.store.SetRunning(ctx, taskID); err != nil {
			return nil, fmt.Errorf("agent: set task running: %w", err)
		}
	}

	wm := memory.NewWorkingMemory(l.contextCeiling)
	if task.SystemPrompt != "" {
		wm.Append(memory.Message{Role: "system", Content: task.SystemPrompt})
	}
	wm.Append(memory.Message{Role: "user", Content: task.Prompt})
	l.persistStep(ctx, taskID, persistence.StepUserMessage, task.Prompt)

	var catalog []*registry.Tool
	if l.registry != nil {
		catalog = l.registry.Catalog()
	}
	tools := toProviderToolSchemas(catalog)
	taskCtx := providers.TaskContext{
		Content:        task.Prompt,
		CostPreference: task.CostPreference,
		RequiresTools:  len(tools) > 0,
	}

	var callHistory []string

	for iter := 1; iter <= l.maxIterations; iter++ {
		if ctx.Err() != nil {
			return nil, l.fail(ctx, taskID, started, "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		}

		l.publishStep(taskID, iter)
		if l.metrics != nil {
			l.metrics.LoopStepsTotal.Add(ctx, 1)
		}

		promptMessages := wm.Messages()
		llmStarted := time.Now()
		msg, providerName, err := l.router.Generate(ctx, toProviderMessages(promptMessages), tools, taskCtx)
		if l.metrics != nil {
			l.metrics.LLMCallDuration.Record(ctx, time.Since(llmStarted).Seconds(),
				metric.WithAttributes(attribute.String("rove.provider", providerName)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, l.fail(ctx, taskID, started, "", err)
		}

		// Adapters don't surface a provider-reported usage count, so token
		// volume is estimated from the same byte-length heuristic the
		// working memory ceiling uses.
		if l.metrics != nil {
			var promptTokens int
			for _, m := range promptMessages {
				promptTokens += memory.EstimateTokens(m.Content)
			}
			l.metrics.TokensUsed.Add(ctx, int64(promptTokens),
				metric.WithAttributes(attribute.String("rove.provider", providerName), attribute.String("rove.direction", "input")))
			l.metrics.TokensUsed.Add(ctx, int64(memory.EstimateTokens(msg.Content)),
				metric.WithAttributes(attribute.String("rove.provider", providerName), attribute.String("rove.direction", "output")))
		}

		assistantJSON, _ := json.Marshal(msg)
		l.persistStep(ctx, taskID, persistence.StepAssistantMessage, string(assistantJSON))
		wm.Append(memory.Message{Role: "assistant", Content: msg.Content})

		if len(msg.ToolCalls) == 0 {
			if len(msg.Content) > MaxResultSizeBytes {
				l.logger.Warn("final answer exceeds size limit", "task_id", taskID, "size", len(msg.Content), "limit", MaxResultSizeBytes)
				return nil, l.fail(ctx, taskID, started, providerName, fmt.Errorf("%w: final answer is %d bytes, limit %d bytes", ErrResultSizeExceeded, len(msg.Content), MaxResultSizeBytes))
			}
			duration := time.Since(started)
			if l.store != nil {
				if err := l.store.Finalize(ctx, taskID, persistence.TaskCompleted, providerName, duration.Milliseconds()); err != nil {
					l.logger.Error("finalize completed task", "task_id", taskID, "error", err)
				}
			}
			span.SetAttributes(otelmetrics.AttrModel.String(providerName))
			return &TaskResult{TaskID: taskID, FinalMessage: msg.Content, Provider: providerName, Duration: duration}, nil
		}

		for _, call := range msg.ToolCalls {
			callJSON, _ := json.Marshal(call)
			l.persistStep(ctx, taskID, persistence.StepToolCall, string(callJSON))

			sig := callSignature(call)
			callHistory = append(callHistory, sig)
			if len(callHistory) > loopDetectWindow {
				callHistory = callHistory[len(callHistory)-loopDetectWindow:]
			}
			if loopDetected(callHistory) {
				return nil, l.fail(ctx, taskID, started, providerName, ErrLoopDetected)
			}

			toolContent, dispatchErr := l.dispatch(ctx, task, call)
			if dispatchErr != nil {
				return nil, l.fail(ctx, taskID, started, providerName, dispatchErr)
			}
			l.persistStep(ctx, taskID, persistence.StepToolResult, toolContent)
			wm.Append(memory.Message{Role: "tool", Content: toolContent})
		}
	}

	return nil, l.fail(ctx, taskID, started, "", ErrIterationLimitExceeded)
}

// dispatch runs one tool call through the registry, mapping the
// outcome (including an error that never reached the runtime) onto the
// JSON fed back to the model as a tool_result — observable failures let
// the model recover instead of killing the task. A result over
// MaxResultSizeBytes is the one outcome that is NOT fed back as a
// recoverable tool_result: it is returned as an error, which fails the
// task outright.
func (l *Loop) dispatch(ctx context.Context, task TaskInput, call providers.ToolCall) (string, error) {
	ctx, span := otelmetrics.StartClientSpan(ctx, l.tracer, "agent.tool_call", otelmetrics.AttrToolName.String(call.Name))
	defer span.End()

	if l.registry == nil {
		return `{"error":"registry: no tool registry configured"}`, nil
	}
	started := time.Now()
	result, err := l.registry.Dispatch(ctx, registry.Request{
		ToolName:     call.Name,
		Arguments:    call.Arguments,
		Source:       task.Source,
		RemoteOrigin: task.RemoteOrigin,
		Confirm:      task.Confirm,
	})
	if l.metrics != nil {
		l.metrics.ToolCallDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(attribute.String("rove.tool", call.Name)))
		if err != nil || (result != nil && result.Error != "") {
			l.metrics.ToolCallErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("rove.tool", call.Name)))
		}
		var rateLimited *ratelimit.ErrRateLimited
		if errors.As(err, &rateLimited) {
			l.metrics.RateLimitRejects.Add(ctx, 1, metric.WithAttributes(attribute.String("rove.tool", call.Name)))
		}
	}

	var content string
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		errJSON, _ := json.Marshal(map[string]string{"error": err.Error()})
		content = string(errJSON)
	case result.Error != "":
		span.SetStatus(codes.Error, result.Error)
		errJSON, _ := json.Marshal(map[string]string{"error": result.Error})
		content = string(errJSON)
	case len(result.Output) == 0:
		content = "{}"
	default:
		content = string(result.Output)
	}

	if len(content) > MaxResultSizeBytes {
		l.logger.Warn("tool result exceeds size limit", "tool", call.Name, "size", len(content), "limit", MaxResultSizeBytes)
		return "", fmt.Errorf("%w: tool %q result is %d bytes, limit %d bytes", ErrResultSizeExceeded, call.Name, len(content), MaxResultSizeBytes)
	}
	return content, nil
}

func (l *Loop) fail(ctx context.Context, taskID string, started time.Time, provider string, cause error) error {
	if l.store != nil {
		if err := l.store.Finalize(ctx, taskID, persistence.TaskFailed, provider, time.Since(started).Milliseconds()); err != nil {
			l.logger.Error("finalize failed task", "task_id", taskID, "error", err)
		}
	}
	return fmt.Errorf("agent: task %s: %w", taskID, cause)
}

func (l *Loop) persistStep(ctx context.Context, taskID string, kind persistence.StepKind, content string) {
	if l.store == nil {
		return
	}
	if _, err := l.store.AppendStep(ctx, taskID, kind, content); err != nil {
		l.logger.Error("persist task step", "task_id", taskID, "kind", kind, "error", err)
	}
}

func (l *Loop) publishStep(taskID string, step int) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(bus.TopicAgentStep, bus.AgentStepEvent{TaskID: taskID, Step: step, MaxSteps: l.maxIterations})
}

func toProviderMessages(msgs []memory.Message) []providers.Message {
	out := make([]providers.Message, len(msgs))
	for i, m := range msgs {
		out[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toProviderToolSchemas(tools []*registry.Tool) []providers.ToolSchema {
	out := make([]providers.ToolSchema, 0, len(tools))
	for _, t := range tools {
		params := t.SchemaJSON
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, providers.ToolSchema{Name: t.Name, Description: t.Description, Parameters: params})
	}
	return out
}

func callSignature(call providers.ToolCall) string {
	canonical, err := registry.CanonicalizeArgs(call.Arguments)
	if err != nil {
		return call.Name + ":" + string(call.Arguments)
	}
	return call.Name + ":" + string(canonical)
}

// loopDetected reports whether the last K calls in history show ≥3
// consecutive repeats of the same call, or two calls alternating for
// all of the K-sized window.
func loopDetected(history []string) bool {
	n := len(history)
	if n >= loopDetectRepeat && allEqual(history[n-loopDetectRepeat:]) {
		return true
	}
	if n == loopDetectAlternate &&
		history[0] == history[2] && history[1] == history[3] && history[0] != history[1] {
		return true
	}
	return false
}

func allEqual(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
