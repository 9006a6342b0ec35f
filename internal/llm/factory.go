package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures a model provider.
type ProviderConfig struct {
	Provider          string  // openai, anthropic, or ollama
	APIKey            string  // required for openai and anthropic
	Model             string  // provider default when empty
	BaseURL           string  // openai/ollama override
	Timeout           time.Duration
	RequestsPerSecond float64 // shared limit across batches; 0 disables
}

// NewTextGenerator creates the appropriate TextGenerator for the provider,
// wrapped with the configured rate limit.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	var gen TextGenerator
	switch cfg.Provider {
	case "openai":
		gen = NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	case "anthropic":
		gen = NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
	case "ollama", "":
		gen = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	if cfg.RequestsPerSecond > 0 {
		gen = NewRateLimitedGenerator(gen, cfg.RequestsPerSecond)
	}
	return gen, nil
}
