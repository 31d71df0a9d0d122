package providers

// NIMConfig configures the NVIDIA NIM adapter, which is just
// openai-go pointed at NIM's OpenAI-compatible endpoint: NIM ships no
// SDK of its own in the pack, and its API surface is OpenAI-compatible,
// so it needs no separate client implementation.
type NIMConfig struct {
	APIKey          string
	BaseURL         string // e.g. "https://integrate.api.nvidia.com/v1"
	Model           string
	MaxOutputTokens int64
}

// NewNIMAdapter creates an OpenAIAdapter configured for NVIDIA NIM.
func NewNIMAdapter(cfg NIMConfig) *OpenAIAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://integrate.api.nvidia.com/v1"
	}
	return NewOpenAIAdapter(OpenAIConfig{
		APIKey:          cfg.APIKey,
		BaseURL:         baseURL,
		Model:           cfg.Model,
		MaxOutputTokens: cfg.MaxOutputTokens,
		ProviderName:    "nim",
	})
}
