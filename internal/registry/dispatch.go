package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rove-run/rove/internal/bus"
	"github.com/rove-run/rove/internal/safety"
	"github.com/rove-run/rove/internal/sandbox/native"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request is one tool-call dispatch.
type Request struct {
	ToolName     string
	Arguments    json.RawMessage
	Source       string // rate-limit/audit source key, e.g. "agent:default" or "telegram:12345"
	RemoteOrigin bool   // true for tasks originating from a remote channel, not the local daemon

	// Confirm, if non-nil, is consulted for T1 (cancel window) and T2
	// (explicit approval) calls. A nil Confirm refuses every T1/T2 call
	// from a remote origin and auto-approves T1 calls from a local
	// origin after the countdown (matching an interactive CLI with no
	// confirmation channel wired up).
	Confirm Confirmer
}

// Confirmer is the tier-appropriate confirmation gate a caller supplies.
// WaitT1 is given a cancel window: it must return (approved=true, nil)
// if the countdown elapses without cancellation, or (false, nil) if the
// caller cancels in time. WaitT2 blocks until an explicit yes/no.
type Confirmer interface {
	WaitT1(ctx context.Context, toolName string, args json.RawMessage, window time.Duration) (approved bool, err error)
	WaitT2(ctx context.Context, toolName string, args json.RawMessage) (approved bool, err error)
}

// Result is a dispatch's structured outcome.
type Result struct {
	ToolName string
	Tier     safety.Tier
	Output   json.RawMessage
	Error    string
}

// ErrConfirmationRequired is returned when a T2 call from a remote
// origin has no confirmation channel: remote callers can never silently
// approve a destructive action.
type ErrConfirmationRequired struct {
	ToolName string
}

func (e *ErrConfirmationRequired) Error() string {
	return fmt.Sprintf("registry: tool %q requires confirmation but no confirmation channel is available", e.ToolName)
}

// ErrConfirmationRefused is returned when the caller or a countdown
// cancellation refused the call.
type ErrConfirmationRefused struct {
	ToolName string
}

func (e *ErrConfirmationRefused) Error() string {
	return fmt.Sprintf("registry: tool %q call was not confirmed", e.ToolName)
}

// Dispatch runs the five-step pipeline (canonicalize, classify,
// rate-limit, confirm, invoke) and returns a structured Result. An error
// return always means the call never reached the runtime; a non-empty
// Result.Error means the runtime ran and failed.
func (r *Registry) Dispatch(ctx context.Context, req Request) (*Result, error) {
	tool, ok := r.Lookup(req.ToolName)
	if !ok {
		return nil, fmt.Errorf("registry: unknown tool %q", req.ToolName)
	}

	canonical, err := CanonicalizeArgs(req.Arguments)
	if err != nil {
		return nil, err
	}

	if tool.Schema != nil {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(canonical)))
		if err != nil {
			return nil, fmt.Errorf("registry: unmarshal canonical args: %w", err)
		}
		if err := tool.Schema.Validate(parsed); err != nil {
			return nil, fmt.Errorf("registry: arguments for %q failed schema validation: %w", req.ToolName, err)
		}
	}

	injection := r.sanitize.Check(string(canonical))
	classification := r.risk.Classify(safety.Input{
		ToolName:       req.ToolName,
		Arguments:      string(canonical),
		RemoteOrigin:   req.RemoteOrigin,
		InjectionMatch: injection.Matched(),
	})
	tier := classification.Tier
	if tool.Tier > tier {
		tier = tool.Tier
	}

	if r.limiter != nil {
		if err := r.limiter.Allow(req.Source, tier); err != nil {
			return nil, err
		}
	}

	switch tier {
	case safety.T1:
		if err := r.confirmT1(ctx, req, tier); err != nil {
			return nil, err
		}
	case safety.T2:
		if err := r.confirmT2(ctx, req); err != nil {
			return nil, err
		}
	}

	output, invokeErr := r.invoke(ctx, tool, canonical)
	result := &Result{ToolName: req.ToolName, Tier: tier, Output: output}
	if invokeErr != nil {
		result.Error = invokeErr.Error()
	}
	r.publish(req.ToolName, tier, invokeErr)
	return result, nil
}

// confirmT1 runs the countdown-with-cancel-window flow. A local-origin
// call with no Confirmer auto-approves after the delay, matching an
// unattended daemon; a remote-origin call with no Confirmer is refused
// outright, since there is nobody to cancel it.
func (r *Registry) confirmT1(ctx context.Context, req Request, tier safety.Tier) error {
	if req.Confirm == nil {
		if req.RemoteOrigin {
			return &ErrConfirmationRequired{ToolName: req.ToolName}
		}
		timer := time.NewTimer(r.t1ConfirmDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	approved, err := req.Confirm.WaitT1(ctx, req.ToolName, req.Arguments, r.t1ConfirmDelay)
	if err != nil {
		return err
	}
	if !approved {
		return &ErrConfirmationRefused{ToolName: req.ToolName}
	}
	return nil
}

// confirmT2 requires an explicit approval; a remote-origin call with no
// confirmation channel is refused, never silently approved.
func (r *Registry) confirmT2(ctx context.Context, req Request) error {
	if req.Confirm == nil {
		return &ErrConfirmationRequired{ToolName: req.ToolName}
	}
	approved, err := req.Confirm.WaitT2(ctx, req.ToolName, req.Arguments)
	if err != nil {
		return err
	}
	if !approved {
		return &ErrConfirmationRefused{ToolName: req.ToolName}
	}
	return nil
}

// invoke dispatches to the tool's backing runtime.
func (r *Registry) invoke(ctx context.Context, tool *Tool, canonical json.RawMessage) (json.RawMessage, error) {
	switch tool.Backend {
	case BackendWASM:
		if r.wasmHost == nil {
			return nil, fmt.Errorf("registry: no WASM host configured for tool %q", tool.Name)
		}
		result, err := r.wasmHost.Invoke(ctx, tool.TargetName, canonical)
		if err != nil {
			return nil, err
		}
		return result, nil
	case BackendNative:
		if r.native == nil {
			return nil, fmt.Errorf("registry: no native runtime configured for tool %q", tool.Name)
		}
		out, err := r.native.Handle(ctx, tool.TargetName, native.ToolInput{Name: tool.Name, Arguments: canonical})
		if err != nil {
			return nil, err
		}
		if out.Error != "" {
			return out.Result, fmt.Errorf("registry: tool %q: %s", tool.Name, out.Error)
		}
		return out.Result, nil
	default:
		return nil, fmt.Errorf("registry: tool %q has an unknown backend", tool.Name)
	}
}

func (r *Registry) publish(toolName string, tier safety.Tier, invokeErr error) {
	if r.bus == nil {
		return
	}
	payload := map[string]interface{}{"tool": toolName, "tier": tier.String()}
	if invokeErr != nil {
		payload["error"] = invokeErr.Error()
	}
	r.bus.Publish(bus.TopicToolDispatched, payload)
}
