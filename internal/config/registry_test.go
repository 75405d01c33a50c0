package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMProviderRegistry(t *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"anthropic-main": {Type: LLMProviderAnthropic, Model: "claude-sonnet-4-5", MaxTokens: 8000, ContextLength: 200000},
	}
	reg := NewLLMProviderRegistry(providers)

	require.True(t, reg.Has("anthropic-main"))
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Get("anthropic-main")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", got.Model)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrLLMProviderNotFound)

	all := reg.GetAll()
	all["anthropic-main"] = &LLMProviderConfig{Model: "mutated"}
	got2, _ := reg.Get("anthropic-main")
	assert.Equal(t, "claude-sonnet-4-5", got2.Model, "GetAll must return a defensive copy")
}

func TestMCPServerRegistry(t *testing.T) {
	servers := map[string]*MCPServerConfig{
		"filesystem": {Name: "filesystem", Transport: TransportConfig{Type: TransportStdio, Command: "mcp-fs"}},
	}
	reg := NewMCPServerRegistry(servers)

	require.True(t, reg.Has("filesystem"))
	_, err := reg.Get("nonexistent")
	assert.ErrorIs(t, err, ErrMCPServerNotFound)
}

func TestEnvironmentRegistry(t *testing.T) {
	envs := map[string]*EnvironmentConfig{
		"python": {Image: "python:3.12-slim"},
	}
	reg := NewEnvironmentRegistry(envs)

	require.True(t, reg.Has("python"))
	_, err := reg.Get("ruby")
	assert.ErrorIs(t, err, ErrEnvironmentNotFound)
	assert.Equal(t, 1, reg.Len())
}

func TestMergeEnvironmentsUserOverridesBuiltin(t *testing.T) {
	builtin := map[string]EnvironmentConfig{
		"default": {Image: "ubuntu:24.04"},
	}
	user := map[string]EnvironmentConfig{
		"default": {Image: "ubuntu:22.04"},
		"rust":    {Image: "rust:1.82-slim"},
	}

	merged := mergeEnvironments(builtin, user)
	assert.Equal(t, "ubuntu:22.04", merged["default"].Image)
	assert.Equal(t, "rust:1.82-slim", merged["rust"].Image)
}
