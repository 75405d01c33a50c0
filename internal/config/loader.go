package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates the orchestrator's configuration
// document. This is the sole entry point subsystems use to obtain a *Config.
//
// Steps:
//  1. Read config.yaml from configDir
//  2. Expand ${VAR}/$VAR environment references
//  3. Parse YAML into a Document
//  4. Merge built-in defaults with the user's document (user overrides)
//  5. Build registries (LLM providers, MCP servers, sandbox environments)
//  6. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.InfoContext(ctx, "loading configuration")

	doc, err := loadDocument(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg, err := build(configDir, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.InfoContext(ctx, "configuration loaded",
		"llm_providers", stats.LLMProviders,
		"mcp_servers", stats.MCPServers,
		"environments", stats.Environments)

	return cfg, nil
}

func loadDocument(configDir string) (*Document, error) {
	path := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &doc, nil
}

func build(configDir string, doc *Document) (*Config, error) {
	llmProviders := mergeLLMProviders(map[string]LLMProviderConfig{}, doc.LLM.Providers)
	mcpServers := mergeMCPServers(map[string]MCPServerConfig{}, doc.MCPServers)
	environments := mergeEnvironments(builtinEnvironments(), doc.CommandExecutor.Environments)

	contextStorage := DefaultContextStorageConfig()
	if err := mergo.Merge(&contextStorage, doc.ContextStorage, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge context_storage: %w", err)
	}

	planning := DefaultPlanningConfig()
	if err := mergo.Merge(&planning, doc.Planning, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge planning: %w", err)
	}

	inheritance := DefaultContextInheritanceConfig()
	if err := mergo.Merge(&inheritance, doc.ContextInheritance, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge context_inheritance: %w", err)
	}

	sandboxDefaults := DefaultSandboxConfig()
	if err := mergo.Merge(&sandboxDefaults, doc.CommandExecutor, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge command_executor: %w", err)
	}

	continuous := DefaultContinuousConfig()
	if err := mergo.Merge(&continuous, doc.Continuous, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge continuous: %w", err)
	}

	pauseResume := DefaultPauseResumeConfig()
	if err := mergo.Merge(&pauseResume, doc.PauseResume, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge pause_resume: %w", err)
	}

	taskStop := DefaultTaskStopConfig()
	if err := mergo.Merge(&taskStop, doc.TaskStop, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge task_stop: %w", err)
	}

	broker := DefaultBrokerConfig()
	if err := mergo.Merge(&broker, doc.Broker, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge broker: %w", err)
	}

	database := DefaultDatabaseConfig()
	if err := mergo.Merge(&database, doc.Database, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge database: %w", err)
	}

	return &Config{
		configDir:           configDir,
		DefaultLLMProvider:  doc.LLM.Provider,
		FunctionCalling:     doc.LLM.FunctionCalling,
		LLMProviderRegistry: NewLLMProviderRegistry(llmProviders),
		MCPServerRegistry:   NewMCPServerRegistry(mcpServers),
		ContextStorage:      contextStorage,
		Planning:            planning,
		ContextInheritance:  inheritance,
		Sandbox: ResolvedSandboxConfig{
			Enabled:            sandboxDefaults.Enabled,
			Environments:       NewEnvironmentRegistry(environments),
			DefaultEnvironment: sandboxDefaults.DefaultEnvironment,
			Docker:             sandboxDefaults.Docker,
			Clone:              sandboxDefaults.Clone,
			Execution:          sandboxDefaults.Execution,
			Cleanup:            sandboxDefaults.Cleanup,
		},
		Continuous:  continuous,
		PauseResume: pauseResume,
		TaskStop:    taskStop,
		Broker:      broker,
		Database:    database,
	}, nil
}
