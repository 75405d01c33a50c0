// Command agentrunner is the orchestrator process binary. It runs as one
// of two roles (spec.md §6 "CLI surface"): a producer that polls the
// tracker and enqueues work, or a consumer that drains the broker and
// drives each task through the planning coordinator. Exactly one role
// runs per process; separable scaling is achieved by running more
// processes, not more goroutines within one.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/agentrunner/internal/broker"
	"github.com/codeready-toolchain/agentrunner/internal/compress"
	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/codeready-toolchain/agentrunner/internal/consumer"
	"github.com/codeready-toolchain/agentrunner/internal/health"
	"github.com/codeready-toolchain/agentrunner/internal/inherit"
	"github.com/codeready-toolchain/agentrunner/internal/llmclient"
	"github.com/codeready-toolchain/agentrunner/internal/masking"
	"github.com/codeready-toolchain/agentrunner/internal/producer"
	"github.com/codeready-toolchain/agentrunner/internal/sandbox"
	"github.com/codeready-toolchain/agentrunner/internal/signalmgr"
	"github.com/codeready-toolchain/agentrunner/internal/store"
	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
	"github.com/codeready-toolchain/agentrunner/internal/tracker"
	"github.com/codeready-toolchain/agentrunner/internal/version"
)

// Exit codes per spec.md §6: 0 clean, 1 fatal config error, 2
// unrecoverable runtime error.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	os.Exit(run())
}

// run builds and executes the root command, translating a returned error
// into one of the two non-zero exit codes. Kept separate from main so the
// exit code can be computed without os.Exit short-circuiting deferred
// cleanup.
func run() int {
	var exitCode int
	cmd := buildRootCmd(&exitCode)
	if err := cmd.Execute(); err != nil {
		slog.Error("agentrunner exited with error", "error", err)
		if exitCode == 0 {
			exitCode = exitRuntimeError
		}
		return exitCode
	}
	return exitOK
}

// buildRootCmd wires the minimal flag surface spec.md §6 names: --mode,
// --continuous, --config. exitCode is written by runOrchestrator so run()
// can distinguish a config error (1) from a runtime error (2) after
// cobra's Execute returns a plain error.
func buildRootCmd(exitCode *int) *cobra.Command {
	var (
		mode       string
		continuous bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:           "agentrunner",
		Short:         "Coding-agent orchestrator producer/consumer process",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "producer" && mode != "consumer" {
				*exitCode = exitConfigError
				return fmt.Errorf("--mode must be %q or %q, got %q", "producer", "consumer", mode)
			}
			return runOrchestrator(cmd.Context(), mode, continuous, configPath, exitCode)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", `process role: "producer" or "consumer" (required)`)
	cmd.Flags().BoolVar(&continuous, "continuous", false, "run the long-lived poll/consume loop instead of a single pass")
	cmd.Flags().StringVar(&configPath, "config", "./config.yaml", "path to the configuration directory")
	_ = cmd.MarkFlagRequired("mode")

	return cmd
}

// runOrchestrator loads configuration, wires every subsystem, and drives
// the selected role until ctx is canceled (continuous mode) or a single
// pass completes (one-shot mode).
func runOrchestrator(ctx context.Context, mode string, continuous bool, configPath string, exitCode *int) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Initialize(ctx, configPath)
	if err != nil {
		*exitCode = exitConfigError
		return fmt.Errorf("load configuration: %w", err)
	}

	deps, cleanup, err := wireDependencies(ctx, cfg)
	if err != nil {
		*exitCode = exitRuntimeError
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer cleanup()

	metrics := health.NewMetrics()
	heartbeat := health.NewHeartbeat(cfg.Continuous.Healthcheck.Dir, time.Duration(cfg.Continuous.Healthcheck.UpdateIntervalSeconds)*time.Second)
	checker := health.NewChecker(5*time.Second,
		health.Check{Name: "broker", Fn: func(context.Context) error { return nil }},
		health.Check{Name: "context_storage", Fn: func(context.Context) error { return statWritable(cfg.ContextStorage.BaseDir) }},
	)
	healthServer := health.NewServer(cfg.Continuous.Healthcheck.HTTPAddr, checker)
	if err := healthServer.Start(); err != nil {
		slog.Warn("health server failed to start, continuing without it", "error", err)
	} else {
		defer healthServer.Stop(context.Background())
	}
	go heartbeat.Run(ctx)

	switch mode {
	case "producer":
		return runProducer(ctx, cfg, deps, metrics, continuous)
	case "consumer":
		return runConsumer(ctx, cfg, deps, metrics, continuous)
	default:
		*exitCode = exitConfigError
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func statWritable(dir string) error {
	if dir == "" {
		return errors.New("context storage base_dir is not configured")
	}
	probe := dir + "/.healthz-probe"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// deps bundles the subsystems both roles draw from, constructed once per
// process regardless of which role actually uses them, matching the
// teacher's own main() building every service up front before dispatch.
type deps struct {
	brk     broker.Broker
	factory tracker.Factory
	lister  tracker.Lister
	llm     llmclient.Client
	sandbox *sandbox.Manager
	idx     *store.Client
}

// wireDependencies constructs every concrete subsystem from cfg. The
// returned cleanup func closes everything that owns a live connection
// (broker, database, docker client has no Close of its own and is left to
// process exit).
func wireDependencies(ctx context.Context, cfg *config.Config) (*deps, func(), error) {
	llmProviderCfg, err := cfg.GetLLMProvider(cfg.DefaultLLMProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve default llm provider: %w", err)
	}
	llm, err := llmclient.New(llmProviderCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build llm client: %w", err)
	}

	sandboxCfg := config.SandboxConfig{
		Enabled:            cfg.Sandbox.Enabled,
		DefaultEnvironment: cfg.Sandbox.DefaultEnvironment,
		Docker:             cfg.Sandbox.Docker,
		Clone:              cfg.Sandbox.Clone,
		Execution:          cfg.Sandbox.Execution,
		Cleanup:            cfg.Sandbox.Cleanup,
	}
	mgr, err := sandbox.New(sandboxCfg, cfg.Sandbox.Environments, cfg.MCPServerRegistry)
	if err != nil {
		return nil, nil, fmt.Errorf("build sandbox manager: %w", err)
	}

	idx, err := store.NewClient(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect task index: %w", err)
	}

	brk, err := broker.Connect(ctx, cfg.Broker)
	if err != nil {
		idx.Close()
		return nil, nil, fmt.Errorf("connect broker: %w", err)
	}

	factory, lister := trackerIntegration(cfg)

	d := &deps{brk: brk, factory: factory, lister: lister, llm: llm, sandbox: mgr, idx: idx}
	cleanup := func() {
		if err := brk.Close(); err != nil {
			slog.Warn("broker close failed", "error", err)
		}
		if err := idx.Close(); err != nil {
			slog.Warn("task index close failed", "error", err)
		}
	}
	return d, cleanup, nil
}

// trackerIntegration resolves the tracker.Factory/Lister pair. Concrete
// GitHub/GitLab clients are out of scope per spec.md §1 — this module
// fixes only the interfaces they must satisfy (internal/tracker), plus a
// MockTracker/MockLister test double. No platform-specific client ships
// here, so the factory this binary wires always declines with a clear
// error and the lister always reports no triggered items; wiring a real
// platform client means building it against the tracker.Factory/Lister
// contract and substituting it here.
func trackerIntegration(cfg *config.Config) (tracker.Factory, tracker.Lister) {
	_ = cfg
	factory := func(ctx context.Context, key taskkey.Key, uuid, requester string) (tracker.Tracker, error) {
		return nil, fmt.Errorf("tracker: no concrete %s client wired (out of scope; see internal/tracker)", key.Source)
	}
	return factory, &tracker.MockLister{}
}

// runProducer drives the producer role: a single run_once pass, or the
// continuous poll/dispatch/cleanup loop.
func runProducer(ctx context.Context, cfg *config.Config, d *deps, metrics *health.Metrics, continuous bool) error {
	p := producer.New(d.lister, d.factory, d.brk, d.sandbox, cfg.ContextStorage.BaseDir, producerLockPath(cfg), cfg.Continuous.Producer, metrics)

	if !continuous {
		return p.RunOnce(ctx)
	}
	return p.RunContinuous(ctx, ctxStopSignal{ctx})
}

// runConsumer drives the consumer role: a single delivery, or the
// continuous claim/process/finalize/ack loop.
func runConsumer(ctx context.Context, cfg *config.Config, d *deps, metrics *health.Metrics, continuous bool) error {
	llmProviderCfg, err := cfg.GetLLMProvider(cfg.DefaultLLMProvider)
	if err != nil {
		return fmt.Errorf("resolve default llm provider for summarizer: %w", err)
	}

	compressCfg := compress.Config{
		CompressionThreshold: cfg.ContextStorage.CompressionThreshold,
		KeepRecentMessages:   cfg.ContextStorage.KeepRecentMessages,
		MinToCompress:        cfg.ContextStorage.MinToCompress,
		SummaryPrompt:        cfg.ContextStorage.SummaryPrompt,
		ContextLength:        llmProviderCfg.MaxTokens,
	}

	hostname, _ := os.Hostname()
	pause := signalmgr.NewPauseSignal(cfg.PauseResume.SignalFile)

	consumerDeps := consumer.Dependencies{
		LLM:           d.llm,
		LLMProvider:   string(llmProviderCfg.Type),
		LLMModel:      llmProviderCfg.Model,
		ContextLength: llmProviderCfg.MaxTokens,
		Sandbox:       d.sandbox,
		Masker:        masking.NewService(),
		Summarizer:    llmclient.Summarizer{Client: d.llm},
		CompressCfg:   compressCfg,
	}

	inheritCfg := inherit.Config{
		ContextExpiryDays:  cfg.ContextInheritance.ContextExpiryDays,
		MaxInheritedTokens: cfg.ContextInheritance.MaxInheritedTokens,
	}

	c := consumer.New(d.brk, d.factory, d.idx, cfg.ContextStorage.BaseDir, inheritCfg, consumerDeps, pause,
		"agentrunner-bot", hostname, cfg.Planning, cfg.Continuous.Consumer, metrics)

	if !continuous {
		_, err := c.RunOnce(ctx)
		return err
	}
	return c.RunContinuous(ctx)
}

// producerLockPath derives the cross-host advisory lock file path from
// the context storage base dir, keeping the lock colocated with the
// filesystem it serializes access to.
func producerLockPath(cfg *config.Config) string {
	return cfg.ContextStorage.BaseDir + "/.producer.lock"
}

// ctxStopSignal adapts a context.Context into the broker.StopSignal
// RunContinuous polls to skip a tick once shutdown has begun, rather than
// starting a new pass that would immediately race the deferred cleanup.
type ctxStopSignal struct {
	ctx context.Context
}

func (s ctxStopSignal) Stopped(context.Context) bool {
	return s.ctx.Err() != nil
}
