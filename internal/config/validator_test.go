package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("VALIDATOR_TEST_KEY", "sk-test")

	providers := map[string]*LLMProviderConfig{
		"main": {Type: LLMProviderAnthropic, Model: "claude-sonnet-4-5", MaxTokens: 8000, ContextLength: 200000, APIKeyEnv: "VALIDATOR_TEST_KEY"},
	}
	envs := map[string]*EnvironmentConfig{
		"default": {Image: "ubuntu:24.04"},
	}

	return &Config{
		DefaultLLMProvider:  "main",
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
		MCPServerRegistry:   NewMCPServerRegistry(map[string]*MCPServerConfig{}),
		ContextStorage:      DefaultContextStorageConfig(),
		Planning:            DefaultPlanningConfig(),
		ContextInheritance:  DefaultContextInheritanceConfig(),
		Sandbox: ResolvedSandboxConfig{
			Enabled:            true,
			Environments:       NewEnvironmentRegistry(envs),
			DefaultEnvironment: "default",
			Docker:             DefaultSandboxConfig().Docker,
			Execution:          DefaultSandboxConfig().Execution,
			Cleanup:            DefaultSandboxConfig().Cleanup,
		},
		Continuous: DefaultContinuousConfig(),
		Broker:     DefaultBrokerConfig(),
		Database:   DefaultDatabaseConfig(),
	}
}

func TestValidateAllAcceptsValidConfig(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateLLMRejectsUnknownDefaultProvider(t *testing.T) {
	cfg := validConfig(t)
	cfg.DefaultLLMProvider = "does-not-exist"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLLMProviderNotFound)
}

func TestValidateLLMRejectsMissingAPIKey(t *testing.T) {
	cfg := validConfig(t)
	providers := cfg.LLMProviderRegistry.GetAll()
	providers["main"].APIKeyEnv = "VALIDATOR_TEST_KEY_UNSET"
	cfg.LLMProviderRegistry = NewLLMProviderRegistry(providers)

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATOR_TEST_KEY_UNSET")
}

func TestValidateSandboxRejectsUnknownDefaultEnvironment(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sandbox.DefaultEnvironment = "missing"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnvironmentNotFound)
}

func TestValidateContextStorageRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := validConfig(t)
	cfg.ContextStorage.CompressionThreshold = 1.5

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compression_threshold")
}

func TestValidateBrokerRejectsMissingStream(t *testing.T) {
	cfg := validConfig(t)
	cfg.Broker.Stream = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream")
}

func TestValidateDatabaseRejectsInvalidPort(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.Port = 70000

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
