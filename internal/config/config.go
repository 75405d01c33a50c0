package config

// ResolvedSandboxConfig is the runtime view of SandboxConfig: Environments
// has been built into a registry rather than left as a raw map.
type ResolvedSandboxConfig struct {
	Enabled            bool
	Environments       *EnvironmentRegistry
	DefaultEnvironment string
	Docker             DockerConfig
	Clone              CloneConfig
	Execution          ExecutionConfig
	Cleanup            SandboxCleanupConfig
}

// Config is the umbrella configuration object returned by Initialize and
// threaded through every subsystem. No subsystem reads the raw YAML
// document directly; each receives either the narrow sub-struct it needs or
// a registry.
type Config struct {
	configDir string

	DefaultLLMProvider string
	LLMProviderRegistry *LLMProviderRegistry
	FunctionCalling     bool

	MCPServerRegistry *MCPServerRegistry

	ContextStorage     ContextStorageConfig
	Planning           PlanningConfig
	ContextInheritance ContextInheritanceConfig
	Sandbox            ResolvedSandboxConfig
	Continuous         ContinuousConfig
	PauseResume        PauseResumeConfig
	TaskStop           TaskStopConfig
	Broker             BrokerConfig
	Database           DatabaseConfig
}

// ConfigDir returns the directory Initialize loaded this configuration from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes loaded configuration for a single startup log line.
type Stats struct {
	LLMProviders int
	MCPServers   int
	Environments int
}

// Stats returns configuration statistics for logging at startup.
func (c *Config) Stats() Stats {
	return Stats{
		LLMProviders: c.LLMProviderRegistry.Len(),
		MCPServers:   c.MCPServerRegistry.Len(),
		Environments: c.Sandbox.Environments.Len(),
	}
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// GetMCPServer retrieves an MCP server configuration by name.
func (c *Config) GetMCPServer(name string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(name)
}

// GetEnvironment retrieves a sandbox environment configuration by name.
func (c *Config) GetEnvironment(name string) (*EnvironmentConfig, error) {
	return c.Sandbox.Environments.Get(name)
}
