package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic-family adapter.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64 // default 4096
}

// AnthropicAdapter wraps anthropic-sdk-go's Messages API.
type AnthropicAdapter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicAdapter creates an AnthropicAdapter.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...), model: cfg.Model, maxTokens: maxTokens}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, IsLocal: false}
}

func (a *AnthropicAdapter) Generate(ctx context.Context, messages []Message, tools []ToolSchema) (AssistantMessage, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  toAnthropicMessages(messages),
	}
	if system := systemPrompt(messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: classifyAnthropicError(err), Err: err}
	}

	out := AssistantMessage{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: block.Name, Arguments: args})
		}
	}
	return out, nil
}

func (a *AnthropicAdapter) Probe(ctx context.Context) error {
	_, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	return err
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			continue // carried separately via params.System
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]interface{}
		_ = json.Unmarshal(t.Parameters, &schema)
		out = append(out, anthropic.ToolUnionParamOfTool(
			anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
			t.Name,
		))
	}
	return out
}

func systemPrompt(messages []Message) string {
	for _, m := range messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

// classifyAnthropicError maps the SDK's HTTP status, when available, to
// a retry class: 401/403 are auth failures (remove this provider from
// the task's ranking); 429 and 5xx are retryable; everything else is
// treated conservatively as retryable too, since anthropic-sdk-go does
// not expose a distinct "content policy refusal" status code — a
// refusal comes back as a normal message with stop_reason, not an
// error, so it never reaches this path.
func classifyAnthropicError(err error) ErrorClass {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return ErrorClassAuth
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return ErrorClassRetryable
		}
	}
	return ErrorClassRetryable
}
