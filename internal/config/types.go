// Package config loads and validates the orchestrator's single hierarchical
// configuration document into a typed, immutable-after-load struct. No
// subsystem performs runtime reflection over a config map; each is handed a
// narrow, already-validated sub-view (e.g. *ContextStorageConfig).
package config

import "time"

// Document is the raw, YAML-shaped configuration as read from disk, before
// defaults are merged in and before it is split into typed sub-views. Field
// names mirror spec.md section 6 exactly.
type Document struct {
	LLM                LLMDocument               `yaml:"llm"`
	MCPServers         []MCPServerConfig         `yaml:"mcp_servers"`
	ContextStorage     ContextStorageConfig      `yaml:"context_storage"`
	Planning           PlanningConfig            `yaml:"planning"`
	ContextInheritance ContextInheritanceConfig  `yaml:"context_inheritance"`
	CommandExecutor    SandboxConfig             `yaml:"command_executor"`
	Continuous         ContinuousConfig          `yaml:"continuous"`
	PauseResume        PauseResumeConfig         `yaml:"pause_resume"`
	TaskStop           TaskStopConfig            `yaml:"task_stop"`
	Broker             BrokerConfig              `yaml:"broker"`
	Database           DatabaseConfig            `yaml:"database"`
}

// LLMDocument is the raw `llm` section: a selected provider name plus a
// table of per-provider settings.
type LLMDocument struct {
	Provider        string                       `yaml:"provider"`
	FunctionCalling bool                         `yaml:"function_calling"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// ContextStorageConfig configures the append-only context store and
// compressor (spec.md §3, §4.3, §4.4).
type ContextStorageConfig struct {
	Enabled             bool    `yaml:"enabled"`
	BaseDir             string  `yaml:"base_dir"`
	CompressionThreshold float64 `yaml:"compression_threshold" validate:"min=0,max=1"`
	KeepRecentMessages  int     `yaml:"keep_recent_messages"`
	MinToCompress       int     `yaml:"min_to_compress"`
	CleanupDays         int     `yaml:"cleanup_days"`
	SummaryPrompt       string  `yaml:"summary_prompt"`
}

// PlanningConfig configures the planning coordinator's phases and budgets
// (spec.md §4.6).
type PlanningConfig struct {
	Enabled    bool                  `yaml:"enabled"`
	Strategy   string                `yaml:"strategy"`
	MaxSubtasks int                  `yaml:"max_subtasks"`
	Reflection ReflectionConfig      `yaml:"reflection"`
	Revision   RevisionConfig        `yaml:"revision"`
	Verification VerificationConfig  `yaml:"verification"`
	Budgets    ReplanBudgets         `yaml:"replan_budgets"`
	MaxLLMProcessNum int             `yaml:"max_llm_process_num"`
}

// ReflectionConfig configures Phase V triggers.
type ReflectionConfig struct {
	Enabled        bool `yaml:"enabled"`
	TriggerOnError bool `yaml:"trigger_on_error"`
	TriggerInterval int `yaml:"trigger_interval"`
}

// RevisionConfig bounds how many plan revisions reflection may apply.
type RevisionConfig struct {
	MaxRevisions int `yaml:"max_revisions"`
}

// VerificationConfig configures Phase VI.
type VerificationConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxRounds int  `yaml:"max_rounds"`
}

// ReplanBudgets are the per-phase and global re-plan decision budgets from
// spec.md §4.6.
type ReplanBudgets struct {
	Clarification   int `yaml:"clarification"`
	Redecomposition int `yaml:"redecomposition"`
	Regeneration    int `yaml:"regeneration"`
	Partial         int `yaml:"partial"`
	Revision        int `yaml:"revision"`
	Global          int `yaml:"global"`
}

// ContextInheritanceConfig configures the inheritance resolver (spec.md §4.8).
type ContextInheritanceConfig struct {
	Enabled           bool `yaml:"enabled"`
	ContextExpiryDays int  `yaml:"context_expiry_days"`
	MaxInheritedTokens int `yaml:"max_inherited_tokens"`
}

// SandboxConfig configures the environment manager (spec.md §4.5), named
// `command_executor` in the config document for historical continuity with
// the tool the LLM calls.
type SandboxConfig struct {
	Enabled            bool                        `yaml:"enabled"`
	Environments       map[string]EnvironmentConfig `yaml:"environments"`
	DefaultEnvironment string                      `yaml:"default_environment"`
	Docker             DockerConfig                `yaml:"docker"`
	Clone              CloneConfig                 `yaml:"clone"`
	Execution          ExecutionConfig             `yaml:"execution"`
	Cleanup            SandboxCleanupConfig        `yaml:"cleanup"`
}

// DockerConfig bounds per-container resources and network egress.
type DockerConfig struct {
	CPULimit float64       `yaml:"cpu_limit"`
	MemoryLimit string      `yaml:"memory_limit"`
	Network  NetworkConfig `yaml:"network"`
}

// NetworkConfig controls sandbox egress.
type NetworkConfig struct {
	ExternalAccess bool     `yaml:"external_access"`
	WhitelistMode  bool     `yaml:"whitelist_mode"`
	AllowedDomains []string `yaml:"allowed_domains"`
}

// CloneConfig controls repository cloning into the sandbox.
type CloneConfig struct {
	Shallow        bool `yaml:"shallow"`
	Depth          int  `yaml:"depth"`
	AutoInstallDeps bool `yaml:"auto_install_deps"`
}

// ExecutionConfig bounds command-executor calls.
type ExecutionConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxOutputSize  int `yaml:"max_output_size"`
}

// SandboxCleanupConfig configures the stale-container sweep.
type SandboxCleanupConfig struct {
	IntervalHours      int `yaml:"interval_hours"`
	StaleThresholdHours int `yaml:"stale_threshold_hours"`
}

// ContinuousConfig configures the producer and consumer long-running loops
// (spec.md §4.1, §4.2).
type ContinuousConfig struct {
	Producer    ProducerConfig    `yaml:"producer"`
	Consumer    ConsumerConfig    `yaml:"consumer"`
	Healthcheck HealthcheckConfig `yaml:"healthcheck"`
}

// ProducerConfig configures the producer loop's poll cadence.
type ProducerConfig struct {
	IntervalMinutes    int  `yaml:"interval_minutes"`
	DelayFirstRun      bool `yaml:"delay_first_run"`
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`
}

// ConsumerConfig configures the consumer loop's broker-wait behavior.
type ConsumerConfig struct {
	QueueTimeoutSeconds int `yaml:"queue_timeout_seconds"`
	MinIntervalSeconds  int `yaml:"min_interval_seconds"`
}

// HealthcheckConfig configures the liveness-probe surface.
type HealthcheckConfig struct {
	Dir                   string `yaml:"dir"`
	UpdateIntervalSeconds int    `yaml:"update_interval_seconds"`
	HTTPAddr              string `yaml:"http_addr"`
}

// PauseResumeConfig configures the pause signal (spec.md §4.7).
type PauseResumeConfig struct {
	Enabled            bool   `yaml:"enabled"`
	SignalFile         string `yaml:"signal_file"`
	CheckInterval      int    `yaml:"check_interval"` // seconds
	PausedTaskExpiryDays int  `yaml:"paused_task_expiry_days"`
}

// TaskStopConfig configures the assignee-removal stop signal (spec.md §4.7).
type TaskStopConfig struct {
	Enabled       bool `yaml:"enabled"`
	CheckInterval int  `yaml:"check_interval"` // seconds
}

// BrokerConfig configures the durable task-delivery broker (spec.md §6).
type BrokerConfig struct {
	URL          string        `yaml:"url"`
	Stream       string        `yaml:"stream"`
	Subject      string        `yaml:"subject"`
	DurableName  string        `yaml:"durable_name"`
	AckWait      time.Duration `yaml:"ack_wait"`
	GetTimeoutSeconds int      `yaml:"get_timeout_seconds"`
}

// DatabaseConfig configures the Postgres-backed task index.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}
