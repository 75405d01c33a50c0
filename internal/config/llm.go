package config

import (
	"fmt"
	"sync"
)

// LLMProviderType identifies which concrete client implementation a provider
// entry is served by.
type LLMProviderType string

// Supported LLM provider types.
const (
	LLMProviderAnthropic      LLMProviderType = "anthropic"
	LLMProviderOpenAI         LLMProviderType = "openai"
	LLMProviderOpenAICompatible LLMProviderType = "openai_compatible"
)

// LLMProviderConfig defines a single LLM provider's connection and call
// settings.
type LLMProviderConfig struct {
	// Type selects the client implementation (required).
	Type LLMProviderType `yaml:"type" validate:"required"`

	// Model name passed through to the provider API (required).
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the API key. The
	// document never carries the key itself.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// BaseURL overrides the provider's default endpoint, used for
	// openai_compatible providers (e.g. a local model server).
	BaseURL string `yaml:"base_url,omitempty"`

	MaxTokens       int     `yaml:"max_tokens" validate:"required,min=1"`

	// ContextLength is the model's total context window, used by the
	// compressor's should_compress threshold (context_length x
	// compression_threshold). Distinct from MaxTokens, which caps a single
	// response.
	ContextLength   int     `yaml:"context_length" validate:"required,min=1"`

	Temperature     float64 `yaml:"temperature,omitempty"`
	RequestsPerMinute int   `yaml:"requests_per_minute,omitempty"`
	TimeoutSeconds  int     `yaml:"timeout_seconds,omitempty"`
	MaxRetries      int     `yaml:"max_retries,omitempty"`
}

// LLMProviderRegistry stores LLM provider configurations in memory with
// thread-safe access.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry from a
// defensive copy of providers.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get retrieves an LLM provider configuration by name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns a copy of all LLM provider configurations.
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has reports whether an LLM provider exists in the registry.
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.providers[name]
	return exists
}

// Len returns the number of registered LLM providers.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
