package providers

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-family adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiAdapter wraps google.golang.org/genai's Models.GenerateContent.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

// NewGeminiAdapter creates a GeminiAdapter.
func NewGeminiAdapter(ctx context.Context, cfg GeminiConfig) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: client, model: cfg.Model}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsTools: true, SupportsStreaming: true, IsLocal: false}
}

func (a *GeminiAdapter) Generate(ctx context.Context, messages []Message, tools []ToolSchema) (AssistantMessage, error) {
	contents, systemInstruction := toGeminiContents(messages)

	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	if len(tools) > 0 {
		config.Tools = toGeminiTools(tools)
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return AssistantMessage{}, &AdapterError{Provider: a.Name(), Class_: classifyGeminiError(err), Err: err}
	}

	out := AssistantMessage{}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				out.ToolCalls = append(out.ToolCalls, ToolCall{Name: part.FunctionCall.Name, Arguments: args})
			}
		}
	}
	return out, nil
}

func (a *GeminiAdapter) Probe(ctx context.Context) error {
	_, err := a.client.Models.GenerateContent(ctx, a.model, []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}, nil)
	return err
}

func toGeminiContents(messages []Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func toGeminiTools(tools []ToolSchema) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema map[string]interface{}
		_ = json.Unmarshal(t.Parameters, &schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  jsonSchemaToGenaiSchema(schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// jsonSchemaToGenaiSchema translates the subset of JSON Schema that tool
// parameter definitions actually use (object/string/number/integer/
// boolean/array, properties, required) into genai's Schema type.
func jsonSchemaToGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: jsonSchemaType(schema["type"])}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				out.Properties[name] = jsonSchemaToGenaiSchema(sub)
			}
		}
	}
	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = jsonSchemaToGenaiSchema(items)
	}
	return out
}

func jsonSchemaType(t interface{}) genai.Type {
	s, _ := t.(string)
	switch s {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

// classifyGeminiError treats every failure as retryable: the genai SDK
// does not expose a typed API error with a status code in the pack's
// usage (embedding-only), so there is no observed shape to branch on
// for auth vs. transient failures here.
func classifyGeminiError(err error) ErrorClass {
	return ErrorClassRetryable
}
