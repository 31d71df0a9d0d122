package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LocalConfig configures the Ollama-compatible local adapter.
type LocalConfig struct {
	BaseURL string // e.g. "http://localhost:11434/v1"
	Model   string
	Client  *http.Client
}

// LocalAdapter talks to a local Ollama-compatible OpenAI-style
// /v1/chat/completions endpoint directly over net/http: no SDK in the
// pack targets Ollama specifically, and its OpenAI-compatible surface
// makes a hand-rolled client the simplest fit, following the same
// direct-HTTP idiom as the teacher's own Ollama tool-detection probe.
type LocalAdapter struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLocalAdapter creates a LocalAdapter.
func NewLocalAdapter(cfg LocalConfig) *LocalAdapter {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 300 * time.Second}
	}
	return &LocalAdapter{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  client,
	}
}

func (a *LocalAdapter) Name() string { return "local" }

func (a *LocalAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: false, IsLocal: true}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
}

type ollamaChatResponse struct {
	Choices []struct {
		Message ollamaChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *LocalAdapter) Generate(ctx context.Context, messages []Message, tools []ToolSchema) (AssistantMessage, error) {
	reqBody := ollamaChatRequest{Model: a.model}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return AssistantMessage{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return AssistantMessage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: ErrorClassRetryable, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: ErrorClassRetryable, Err: err}
	}

	if resp.StatusCode >= 500 {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: ErrorClassRetryable, Err: fmt.Errorf("ollama returned %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode >= 400 {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: ErrorClassUnknown, Err: fmt.Errorf("ollama returned %d: %s", resp.StatusCode, data)}
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: ErrorClassRetryable, Err: fmt.Errorf("decode ollama response: %w", err)}
	}
	if parsed.Error != nil {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: ErrorClassRetryable, Err: fmt.Errorf("ollama error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: ErrorClassRetryable, Err: fmt.Errorf("ollama returned no choices")}
	}

	return AssistantMessage{Content: parsed.Choices[0].Message.Content}, nil
}

func (a *LocalAdapter) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(a.baseURL, "/v1")+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama probe returned %d", resp.StatusCode)
	}
	return nil
}
