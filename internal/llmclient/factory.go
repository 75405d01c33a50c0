package llmclient

import (
	"fmt"
	"os"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/config"
)

// New builds the Client implementation named by cfg.Type, reading the API
// key from the environment variable cfg.APIKeyEnv names (the config
// document never carries the key itself).
func New(cfg *config.LLMProviderConfig) (Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)

	switch cfg.Type {
	case config.LLMProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   retryDelay(cfg),
		})
	case config.LLMProviderOpenAI, config.LLMProviderOpenAICompatible:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   retryDelay(cfg),
		})
	default:
		return nil, fmt.Errorf("llmclient: unsupported provider type %q", cfg.Type)
	}
}

// retryDelay is the base backoff between retry attempts; provider
// constructors apply their own default (250ms) when this returns 0, so a
// fixed value here keeps the two constructors' behavior identical.
func retryDelay(cfg *config.LLMProviderConfig) time.Duration {
	return 250 * time.Millisecond
}
