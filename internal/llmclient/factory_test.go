package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrunner/internal/config"
)

func TestNewDispatchesByProviderType(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	anthropicCfg := &config.LLMProviderConfig{
		Type:      config.LLMProviderAnthropic,
		Model:     "claude-sonnet-4-20250514",
		APIKeyEnv: "TEST_ANTHROPIC_KEY",
		MaxTokens: 4096,
	}
	c, err := New(anthropicCfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())

	openaiCfg := &config.LLMProviderConfig{
		Type:      config.LLMProviderOpenAI,
		Model:     "gpt-4o",
		APIKeyEnv: "TEST_OPENAI_KEY",
		MaxTokens: 4096,
	}
	c, err = New(openaiCfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	compatCfg := &config.LLMProviderConfig{
		Type:      config.LLMProviderOpenAICompatible,
		Model:     "local-model",
		APIKeyEnv: "TEST_OPENAI_KEY",
		BaseURL:   "http://localhost:1234/v1",
		MaxTokens: 4096,
	}
	c, err = New(compatCfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
}

func TestNewRejectsUnsupportedProviderType(t *testing.T) {
	_, err := New(&config.LLMProviderConfig{Type: "bedrock"})
	assert.Error(t, err)
}
