package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rove-run/rove/internal/providers"
)

type fakeAdapter struct {
	name    string
	calls   int
	respond func(call int) (providers.AssistantMessage, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{SupportsTools: true, SupportsStreaming: false, IsLocal: true}
}

func (f *fakeAdapter) Generate(_ context.Context, _ []providers.Message, _ []providers.ToolSchema) (providers.AssistantMessage, error) {
	f.calls++
	return f.respond(f.calls)
}

func (f *fakeAdapter) Probe(_ context.Context) error { return nil }

func newRouter(t *testing.T, adapter *fakeAdapter) *providers.Router {
	t.Helper()
	return providers.New([]providers.Adapter{adapter}, []string{adapter.name}, nil)
}

func toolCall(name, args string) providers.ToolCall {
	return providers.ToolCall{Name: name, Arguments: []byte(args)}
}

func TestLoop_FinalTextAnswerTerminatesImmediately(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(int) (providers.AssistantMessage, error) {
		return providers.AssistantMessage{Content: "the answer is 4"}, nil
	}}
	l := New(Config{Router: newRouter(t, adapter)})

	result, err := l.Run(context.Background(), TaskInput{Prompt: "what is 2+2?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalMessage != "the answer is 4" {
		t.Errorf("got %q", result.FinalMessage)
	}
	if result.Provider != "local" {
		t.Errorf("got provider %q", result.Provider)
	}
	if adapter.calls != 1 {
		t.Errorf("expected exactly one provider call, got %d", adapter.calls)
	}
}

func TestLoop_DispatchesToolCallsWithoutRegistryReportsError(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(call int) (providers.AssistantMessage, error) {
		if call == 1 {
			return providers.AssistantMessage{ToolCalls: []providers.ToolCall{toolCall("read_file", `{"path":"a.txt"}`)}}, nil
		}
		return providers.AssistantMessage{Content: "done"}, nil
	}}
	l := New(Config{Router: newRouter(t, adapter)})

	result, err := l.Run(context.Background(), TaskInput{Prompt: "read a.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalMessage != "done" {
		t.Errorf("got %q", result.FinalMessage)
	}
	if adapter.calls != 2 {
		t.Errorf("expected two provider calls (tool round then final), got %d", adapter.calls)
	}
}

func TestLoop_MultipleToolCallsInOneRoundAllDispatch(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(call int) (providers.AssistantMessage, error) {
		if call == 1 {
			return providers.AssistantMessage{ToolCalls: []providers.ToolCall{
				toolCall("read_file", `{"path":"a.txt"}`),
				toolCall("read_file", `{"path":"b.txt"}`),
			}}, nil
		}
		return providers.AssistantMessage{Content: "done"}, nil
	}}
	l := New(Config{Router: newRouter(t, adapter)})

	result, err := l.Run(context.Background(), TaskInput{Prompt: "read both files"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalMessage != "done" {
		t.Errorf("got %q", result.FinalMessage)
	}
}

func TestLoop_IterationLimitExceeded(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(call int) (providers.AssistantMessage, error) {
		// Distinct args each round so loop detection never fires first.
		return providers.AssistantMessage{ToolCalls: []providers.ToolCall{
			toolCall("probe", `{"n":`+string(rune('0'+call%10))+`}`),
		}}, nil
	}}
	l := New(Config{Router: newRouter(t, adapter), MaxIterations: 5})

	_, err := l.Run(context.Background(), TaskInput{Prompt: "keep probing"})
	if !errors.Is(err, ErrIterationLimitExceeded) {
		t.Fatalf("got %v, want ErrIterationLimitExceeded", err)
	}
}

func TestLoop_LoopDetectedOnConsecutiveRepeat(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(int) (providers.AssistantMessage, error) {
		return providers.AssistantMessage{ToolCalls: []providers.ToolCall{
			toolCall("list_dir", `{"path":"."}`),
		}}, nil
	}}
	l := New(Config{Router: newRouter(t, adapter)})

	_, err := l.Run(context.Background(), TaskInput{Prompt: "list the directory"})
	if !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("got %v, want ErrLoopDetected", err)
	}
	if adapter.calls > 3 {
		t.Errorf("expected the loop to stop shortly after the repeat, got %d calls", adapter.calls)
	}
}

func TestLoop_LoopDetectedOnAlternatingPair(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(call int) (providers.AssistantMessage, error) {
		if call%2 == 1 {
			return providers.AssistantMessage{ToolCalls: []providers.ToolCall{toolCall("ping", `{"host":"a"}`)}}, nil
		}
		return providers.AssistantMessage{ToolCalls: []providers.ToolCall{toolCall("ping", `{"host":"b"}`)}}, nil
	}}
	l := New(Config{Router: newRouter(t, adapter)})

	_, err := l.Run(context.Background(), TaskInput{Prompt: "ping both hosts forever"})
	if !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("got %v, want ErrLoopDetected", err)
	}
}

func TestLoop_NoUsableProviderPropagates(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(int) (providers.AssistantMessage, error) {
		return providers.AssistantMessage{}, &providers.AdapterError{Provider: "local", Class_: providers.ErrorClassRetryable, Err: errors.New("unreachable")}
	}}
	l := New(Config{Router: newRouter(t, adapter)})

	_, err := l.Run(context.Background(), TaskInput{Prompt: "anything"})
	if !errors.Is(err, providers.ErrNoUsableProvider) {
		t.Fatalf("got %v, want ErrNoUsableProvider", err)
	}
}

func TestLoop_CancelledContextStopsBeforeNextIteration(t *testing.T) {
	adapter := &fakeAdapter{name: "local", respond: func(int) (providers.AssistantMessage, error) {
		return providers.AssistantMessage{ToolCalls: []providers.ToolCall{toolCall("noop", `{}`)}}, nil
	}}
	l := New(Config{Router: newRouter(t, adapter)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Run(ctx, TaskInput{Prompt: "anything"})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
}

func TestLoopDetected_ThreeConsecutiveSameSignature(t *testing.T) {
	history := []string{"a:{}", "a:{}", "a:{}"}
	if !loopDetected(history) {
		t.Error("expected three identical consecutive signatures to trip detection")
	}
}

func TestLoopDetected_TwoRepeatsDoNotTrip(t *testing.T) {
	history := []string{"a:{}", "a:{}"}
	if loopDetected(history) {
		t.Error("two repeats should not trip detection")
	}
}

func TestLoopDetected_AlternatingFourTrips(t *testing.T) {
	history := []string{"a:{}", "b:{}", "a:{}", "b:{}"}
	if !loopDetected(history) {
		t.Error("expected an alternating A,B,A,B window to trip detection")
	}
}

func TestLoopDetected_DistinctCallsNeverTrip(t *testing.T) {
	history := []string{"a:{}", "b:{}", "c:{}", "d:{}"}
	if loopDetected(history) {
		t.Error("four distinct calls should not trip detection")
	}
}

func TestCallSignature_CanonicalizesArgumentOrder(t *testing.T) {
	a := toolCall("read_file", `{"b":2,"a":1}`)
	b := toolCall("read_file", `{"a":1,"b":2}`)
	if callSignature(a) != callSignature(b) {
		t.Errorf("expected reordered-but-equal arguments to produce the same signature: %q vs %q", callSignature(a), callSignature(b))
	}
}
