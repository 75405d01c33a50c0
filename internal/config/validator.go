package config

import (
	"fmt"
	"os"
)

// Validator validates a fully-merged Config, failing fast at the first
// error encountered.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation. Order matters: leaf
// registries (LLM providers, MCP servers, environments) are validated
// before the sections that reference them.
func (v *Validator) ValidateAll() error {
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}
	if err := v.validateSandbox(); err != nil {
		return fmt.Errorf("command_executor validation failed: %w", err)
	}
	if err := v.validateContextStorage(); err != nil {
		return fmt.Errorf("context_storage validation failed: %w", err)
	}
	if err := v.validatePlanning(); err != nil {
		return fmt.Errorf("planning validation failed: %w", err)
	}
	if err := v.validateContinuous(); err != nil {
		return fmt.Errorf("continuous validation failed: %w", err)
	}
	if err := v.validateBroker(); err != nil {
		return fmt.Errorf("broker validation failed: %w", err)
	}
	if err := v.validateDatabase(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateLLM() error {
	if v.cfg.LLMProviderRegistry.Len() == 0 {
		return fmt.Errorf("at least one llm provider must be configured")
	}

	if !v.cfg.LLMProviderRegistry.Has(v.cfg.DefaultLLMProvider) {
		return NewValidationError("llm", v.cfg.DefaultLLMProvider, "provider", ErrLLMProviderNotFound)
	}

	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		switch provider.Type {
		case LLMProviderAnthropic, LLMProviderOpenAI, LLMProviderOpenAICompatible:
		default:
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		if provider.MaxTokens < 1 {
			return NewValidationError("llm_provider", name, "max_tokens", fmt.Errorf("must be at least 1"))
		}

		if provider.ContextLength < 1 {
			return NewValidationError("llm_provider", name, "context_length", fmt.Errorf("must be at least 1"))
		}

		if provider.Type == LLMProviderOpenAICompatible && provider.BaseURL == "" {
			return NewValidationError("llm_provider", name, "base_url", fmt.Errorf("base_url required for openai_compatible provider"))
		}

		if name == v.cfg.DefaultLLMProvider && provider.APIKeyEnv != "" {
			if os.Getenv(provider.APIKeyEnv) == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}
	}

	return nil
}

func (v *Validator) validateMCPServers() error {
	for name, server := range v.cfg.MCPServerRegistry.GetAll() {
		switch server.Transport.Type {
		case TransportStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", name, "transport.command", fmt.Errorf("command required for stdio transport"))
			}
		case TransportHTTP, TransportSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", name, "transport.url", fmt.Errorf("url required for %s transport", server.Transport.Type))
			}
		default:
			return NewValidationError("mcp_server", name, "transport.type", fmt.Errorf("invalid transport type: %s", server.Transport.Type))
		}

		if server.DataMasking != nil && server.DataMasking.Enabled {
			for i, pattern := range server.DataMasking.CustomPatterns {
				if pattern.Pattern == "" {
					return NewValidationError("mcp_server", name, fmt.Sprintf("data_masking.custom_patterns[%d].pattern", i), fmt.Errorf("pattern required"))
				}
				if pattern.Replacement == "" {
					return NewValidationError("mcp_server", name, fmt.Sprintf("data_masking.custom_patterns[%d].replacement", i), fmt.Errorf("replacement required"))
				}
			}
		}
	}
	return nil
}

func (v *Validator) validateSandbox() error {
	sb := v.cfg.Sandbox
	if !sb.Enabled {
		return nil
	}

	if sb.Environments.Len() == 0 {
		return fmt.Errorf("at least one sandbox environment must be configured")
	}
	if !sb.Environments.Has(sb.DefaultEnvironment) {
		return NewValidationError("command_executor", sb.DefaultEnvironment, "default_environment", ErrEnvironmentNotFound)
	}
	for name, env := range sb.Environments.GetAll() {
		if env.Image == "" {
			return NewValidationError("environment", name, "image", fmt.Errorf("image required"))
		}
	}
	if sb.Docker.CPULimit <= 0 {
		return NewValidationError("command_executor", "", "docker.cpu_limit", fmt.Errorf("must be positive"))
	}
	if sb.Execution.TimeoutSeconds <= 0 {
		return NewValidationError("command_executor", "", "execution.timeout_seconds", fmt.Errorf("must be positive"))
	}
	if sb.Cleanup.StaleThresholdHours <= 0 {
		return NewValidationError("command_executor", "", "cleanup.stale_threshold_hours", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateContextStorage() error {
	cs := v.cfg.ContextStorage
	if !cs.Enabled {
		return nil
	}
	if cs.BaseDir == "" {
		return NewValidationError("context_storage", "", "base_dir", fmt.Errorf("required"))
	}
	if cs.CompressionThreshold <= 0 || cs.CompressionThreshold > 1 {
		return NewValidationError("context_storage", "", "compression_threshold", fmt.Errorf("must be in (0, 1], got %v", cs.CompressionThreshold))
	}
	if cs.KeepRecentMessages < 1 {
		return NewValidationError("context_storage", "", "keep_recent_messages", fmt.Errorf("must be at least 1"))
	}
	if cs.MinToCompress < 1 {
		return NewValidationError("context_storage", "", "min_to_compress", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validatePlanning() error {
	p := v.cfg.Planning
	if !p.Enabled {
		return nil
	}
	if p.MaxSubtasks < 1 {
		return NewValidationError("planning", "", "max_subtasks", fmt.Errorf("must be at least 1"))
	}
	if p.Revision.MaxRevisions < 0 {
		return NewValidationError("planning", "", "revision.max_revisions", fmt.Errorf("must be non-negative"))
	}
	if p.Verification.Enabled && p.Verification.MaxRounds < 1 {
		return NewValidationError("planning", "", "verification.max_rounds", fmt.Errorf("must be at least 1 when verification is enabled"))
	}
	b := p.Budgets
	for field, n := range map[string]int{
		"clarification":   b.Clarification,
		"redecomposition": b.Redecomposition,
		"regeneration":    b.Regeneration,
		"partial":         b.Partial,
		"revision":        b.Revision,
		"global":          b.Global,
	} {
		if n < 0 {
			return NewValidationError("planning", "", "replan_budgets."+field, fmt.Errorf("must be non-negative"))
		}
	}
	if b.Global > 0 {
		sum := b.Clarification + b.Redecomposition + b.Regeneration + b.Partial + b.Revision
		if sum > 0 && b.Global < 1 {
			return NewValidationError("planning", "", "replan_budgets.global", fmt.Errorf("global budget too small for any per-phase budget to be usable"))
		}
	}
	return nil
}

func (v *Validator) validateContinuous() error {
	c := v.cfg.Continuous
	if c.Producer.IntervalMinutes < 1 {
		return NewValidationError("continuous", "", "producer.interval_minutes", fmt.Errorf("must be at least 1"))
	}
	if c.Consumer.QueueTimeoutSeconds < 1 {
		return NewValidationError("continuous", "", "consumer.queue_timeout_seconds", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateBroker() error {
	b := v.cfg.Broker
	if b.URL == "" {
		return NewValidationError("broker", "", "url", fmt.Errorf("required"))
	}
	if b.Stream == "" {
		return NewValidationError("broker", "", "stream", fmt.Errorf("required"))
	}
	if b.Subject == "" {
		return NewValidationError("broker", "", "subject", fmt.Errorf("required"))
	}
	if b.GetTimeoutSeconds < 1 {
		return NewValidationError("broker", "", "get_timeout_seconds", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	d := v.cfg.Database
	if d.Host == "" {
		return NewValidationError("database", "", "host", fmt.Errorf("required"))
	}
	if d.Port < 1 || d.Port > 65535 {
		return NewValidationError("database", "", "port", fmt.Errorf("must be a valid TCP port"))
	}
	if d.Database == "" {
		return NewValidationError("database", "", "database", fmt.Errorf("required"))
	}
	if d.MaxOpenConns < 1 {
		return NewValidationError("database", "", "max_open_conns", fmt.Errorf("must be at least 1"))
	}
	return nil
}
