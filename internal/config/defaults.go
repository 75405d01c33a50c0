package config

import "time"

// builtinEnvironments is the default sandbox environment table, used when
// the loaded document defines no `command_executor.environments` entries.
func builtinEnvironments() map[string]EnvironmentConfig {
	return map[string]EnvironmentConfig{
		"default": {
			Image:   "ubuntu:24.04",
			WorkDir: "/workspace",
		},
		"python": {
			Image:         "python:3.12-slim",
			WorkDir:       "/workspace",
			SetupCommands: []string{"pip install -r requirements.txt || true"},
		},
		"node": {
			Image:         "node:22-slim",
			WorkDir:       "/workspace",
			SetupCommands: []string{"npm install || true"},
		},
		"go": {
			Image:   "golang:1.25-bookworm",
			WorkDir: "/workspace",
		},
	}
}

// DefaultContextStorageConfig returns the built-in context storage and
// compression defaults.
func DefaultContextStorageConfig() ContextStorageConfig {
	return ContextStorageConfig{
		Enabled:              true,
		BaseDir:              "data/contexts",
		CompressionThreshold: 0.7,
		KeepRecentMessages:   8,
		MinToCompress:        5,
		CleanupDays:          90,
	}
}

// DefaultPlanningConfig returns the built-in planning coordinator defaults.
func DefaultPlanningConfig() PlanningConfig {
	return PlanningConfig{
		Enabled:     true,
		Strategy:    "decompose",
		MaxSubtasks: 10,
		Reflection: ReflectionConfig{
			Enabled:         true,
			TriggerOnError:  true,
			TriggerInterval: 5,
		},
		Revision: RevisionConfig{
			MaxRevisions: 3,
		},
		Verification: VerificationConfig{
			Enabled:   true,
			MaxRounds: 2,
		},
		Budgets: ReplanBudgets{
			Clarification:   2,
			Redecomposition: 2,
			Regeneration:    3,
			Partial:         3,
			Revision:        3,
			Global:          8,
		},
		MaxLLMProcessNum: 40,
	}
}

// DefaultContextInheritanceConfig returns the built-in inheritance defaults.
func DefaultContextInheritanceConfig() ContextInheritanceConfig {
	return ContextInheritanceConfig{
		Enabled:            true,
		ContextExpiryDays:  90,
		MaxInheritedTokens: 8000,
	}
}

// DefaultSandboxConfig returns the built-in command-executor defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Enabled:            true,
		DefaultEnvironment: "default",
		Docker: DockerConfig{
			CPULimit:    2.0,
			MemoryLimit: "2g",
			Network: NetworkConfig{
				ExternalAccess: true,
				WhitelistMode:  false,
			},
		},
		Clone: CloneConfig{
			Shallow:         true,
			Depth:           1,
			AutoInstallDeps: true,
		},
		Execution: ExecutionConfig{
			TimeoutSeconds: 300,
			MaxOutputSize:  1 << 20, // 1 MiB
		},
		Cleanup: SandboxCleanupConfig{
			IntervalHours:       1,
			StaleThresholdHours: 24,
		},
	}
}

// DefaultContinuousConfig returns the built-in producer/consumer loop
// defaults.
func DefaultContinuousConfig() ContinuousConfig {
	return ContinuousConfig{
		Producer: ProducerConfig{
			IntervalMinutes:      5,
			DelayFirstRun:        false,
			CleanupIntervalHours: 1,
		},
		Consumer: ConsumerConfig{
			QueueTimeoutSeconds: 30,
			MinIntervalSeconds:  1,
		},
		Healthcheck: HealthcheckConfig{
			Dir:                   "data/health",
			UpdateIntervalSeconds: 30,
			HTTPAddr:              ":8080",
		},
	}
}

// DefaultPauseResumeConfig returns the built-in pause-signal defaults.
func DefaultPauseResumeConfig() PauseResumeConfig {
	return PauseResumeConfig{
		Enabled:              true,
		SignalFile:           ".agentrunner-pause",
		CheckInterval:        5,
		PausedTaskExpiryDays: 30,
	}
}

// DefaultTaskStopConfig returns the built-in stop-signal defaults.
func DefaultTaskStopConfig() TaskStopConfig {
	return TaskStopConfig{
		Enabled:       true,
		CheckInterval: 30,
	}
}

// DefaultBrokerConfig returns the built-in broker defaults.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		URL:               "nats://127.0.0.1:4222",
		Stream:            "AGENTRUNNER_TASKS",
		Subject:           "agentrunner.tasks",
		DurableName:       "agentrunner-consumer",
		AckWait:           5 * time.Minute,
		GetTimeoutSeconds: 30,
	}
}

// DefaultDatabaseConfig returns the built-in Postgres connection defaults.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            "127.0.0.1",
		Port:            5432,
		User:            "agentrunner",
		Database:        "agentrunner",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}
