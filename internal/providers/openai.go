package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI-family adapter. Setting BaseURL
// also lets this adapter front an OpenAI-compatible gateway (NVIDIA NIM
// uses this same adapter type — see nim.go).
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int64 // default 4096
	ProviderName    string // overrides Name() — "openai" or "nim"
}

// OpenAIAdapter wraps openai-go's Responses API.
type OpenAIAdapter struct {
	client    openai.Client
	model     string
	maxTokens int64
	name      string
}

// NewOpenAIAdapter creates an OpenAIAdapter.
func NewOpenAIAdapter(cfg OpenAIConfig) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	name := cfg.ProviderName
	if name == "" {
		name = "openai"
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), model: cfg.Model, maxTokens: maxTokens, name: name}
}

func (a *OpenAIAdapter) Name() string { return a.name }

func (a *OpenAIAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, IsLocal: false}
}

func (a *OpenAIAdapter) Generate(ctx context.Context, messages []Message, tools []ToolSchema) (AssistantMessage, error) {
	inputItems, instructions := buildResponsesInput(messages)
	if len(inputItems) == 0 {
		inputItems = append(inputItems, responses.ResponseInputItemParamOfMessage("Continue.", responses.EasyInputMessageRoleUser))
	}

	params := responses.ResponseNewParams{
		Model:           shared.ResponsesModel(a.model),
		MaxOutputTokens: openai.Int(a.maxTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: inputItems},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if len(tools) > 0 {
		params.Tools = buildResponsesTools(tools)
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: classifyOpenAIError(err), Err: err}
	}

	return AssistantMessage{Content: extractResponseText(resp), ToolCalls: extractResponseToolCalls(resp)}, nil
}

func (a *OpenAIAdapter) Probe(ctx context.Context) error {
	_, err := a.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           shared.ResponsesModel(a.model),
		MaxOutputTokens: openai.Int(1),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String("ping")},
	})
	return err
}

func buildResponsesInput(messages []Message) (responses.ResponseInputParam, string) {
	var items responses.ResponseInputParam
	var instructions []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				instructions = append(instructions, m.Content)
			}
		case "assistant":
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		}
	}
	return items, strings.Join(instructions, "\n\n")
}

func buildResponsesTools(tools []ToolSchema) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := map[string]interface{}{}
		_ = json.Unmarshal(t.Parameters, &schema)
		out = append(out, responses.ToolParamOfFunction(t.Name, schema, true))
	}
	return out
}

func extractResponseText(resp *responses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if part.Type != "output_text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func extractResponseToolCalls(resp *responses.Response) []ToolCall {
	var calls []ToolCall
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		calls = append(calls, ToolCall{Name: call.Name, Arguments: []byte(call.Arguments)})
	}
	return calls
}

// classifyOpenAIError maps the SDK's status-bearing error to a retry
// class: 401/403 are auth failures; 429 and 5xx are retryable.
// openai-go surfaces content-policy refusals as a normal response with a
// "refusal" content part rather than an error, so that case never
// reaches here — it is the caller's job to inspect AssistantMessage.
func classifyOpenAIError(err error) ErrorClass {
	var apiErr *openai.Error
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
