// Package consumer implements the consumer loop (spec.md §4.2): drain the
// broker, rebuild a Task from its TaskKey, drive it through the planning
// coordinator, and land it in its terminal context-directory and index
// state before acknowledging the delivery.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/broker"
	"github.com/codeready-toolchain/agentrunner/internal/compress"
	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
	"github.com/codeready-toolchain/agentrunner/internal/health"
	"github.com/codeready-toolchain/agentrunner/internal/inherit"
	"github.com/codeready-toolchain/agentrunner/internal/llmclient"
	"github.com/codeready-toolchain/agentrunner/internal/masking"
	"github.com/codeready-toolchain/agentrunner/internal/planning"
	"github.com/codeready-toolchain/agentrunner/internal/sandbox"
	"github.com/codeready-toolchain/agentrunner/internal/signalmgr"
	"github.com/codeready-toolchain/agentrunner/internal/store"
	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
	"github.com/codeready-toolchain/agentrunner/internal/tracker"
)

// deliveryRenewInterval is how often an in-flight delivery's visibility
// window is extended while the coordinator is still running, so a
// long-running task isn't redelivered out from under itself.
const deliveryRenewInterval = 30 * time.Second

// pausedIdleSleep bounds how often RunContinuous retries GetWithSignalCheck
// while the pause signal is active and nothing was processed, so the loop
// doesn't spin tight against a stop check that returns immediately.
const pausedIdleSleep = 2 * time.Second

// Index is the narrow store capability the consumer needs: inherit.Index's
// lookup, plus creating a new row and updating status on every terminal
// or resume transition. Satisfied by *store.Client; tests use an
// in-memory fake so the consumer's unit tests don't need a live Postgres.
type Index interface {
	inherit.Index
	Insert(ctx context.Context, r *store.TaskRecord) error
	UpdateStatus(ctx context.Context, uuid string, status store.Status, errMsg string) error
}

// Runner is the narrow planning-coordinator capability the consumer
// depends on, satisfied by *planning.Coordinator. Kept as an interface so
// tests can substitute a fake that doesn't require a live Docker daemon or
// LLM credentials — the same reason internal/planning's own tests never
// drive a full Coordinator.Run.
type Runner interface {
	Run(ctx context.Context) (*planning.Result, error)
}

// coordinatorBuilder constructs the per-delivery Runner. Production wiring
// (see New) builds a real *planning.Coordinator; tests override the
// Consumer's field directly with a fake.
type coordinatorBuilder func(task planning.TaskInfo, st *contextstore.Store, trk tracker.Tracker, stop *signalmgr.StopChecker) Runner

// Dependencies bundles the subsystems the consumer wires into every
// coordinator it builds. All fields are required except CompressCfg,
// which may be the zero value if compression is disabled.
type Dependencies struct {
	LLM         llmclient.Client
	LLMProvider string // provider type name, recorded on Metadata/TaskRecord
	LLMModel    string
	ContextLength int

	Sandbox    *sandbox.Manager
	Masker     *masking.Service
	Summarizer compress.Summarizer
	CompressCfg compress.Config
}

// Consumer drives spec.md §4.2's per-delivery algorithm.
type Consumer struct {
	brk     broker.Broker
	factory tracker.Factory
	idx     Index

	baseDir    string
	inheritCfg inherit.Config

	deps Dependencies

	pause   *signalmgr.PauseSignal
	botName string

	hostname string

	planningCfg config.PlanningConfig
	cfg         config.ConsumerConfig

	buildCoordinator coordinatorBuilder

	metrics *health.Metrics

	log *slog.Logger
}

// New builds a Consumer. hostname identifies this process in the index
// row (store.TaskRecord.Hostname), matching the value the producer's
// FindStaleRunning sweep filters on. metrics may be nil (recording becomes
// a no-op); production wiring passes the process-wide *health.Metrics.
func New(brk broker.Broker, factory tracker.Factory, idx Index, baseDir string, inheritCfg inherit.Config, deps Dependencies, pause *signalmgr.PauseSignal, botName, hostname string, planningCfg config.PlanningConfig, cfg config.ConsumerConfig, metrics *health.Metrics) *Consumer {
	c := &Consumer{
		brk:         brk,
		factory:     factory,
		idx:         idx,
		baseDir:     baseDir,
		inheritCfg:  inheritCfg,
		deps:        deps,
		pause:       pause,
		botName:     botName,
		hostname:    hostname,
		planningCfg: planningCfg,
		cfg:         cfg,
		metrics:     metrics,
		log:         slog.With("component", "consumer"),
	}
	c.buildCoordinator = c.newCoordinator
	return c
}

// newCoordinator is the default coordinatorBuilder: a real
// planning.Coordinator wired to this Consumer's Dependencies.
func (c *Consumer) newCoordinator(task planning.TaskInfo, st *contextstore.Store, trk tracker.Tracker, stop *signalmgr.StopChecker) Runner {
	coord := planning.New(task, st, c.deps.LLM, c.deps.Sandbox, trk, c.deps.Masker, c.deps.Summarizer, c.deps.CompressCfg, c.pause, stop, c.planningCfg, c.log)
	coord.SetMetrics(c.metrics)
	return coord
}

// RunOnce performs a single blocking dequeue-and-process pass. processed
// reports whether a delivery was actually received (false on timeout or
// pause); err is the delivery's processing error, if any — RunOnce itself
// never treats a handling failure as fatal to the loop.
func (c *Consumer) RunOnce(ctx context.Context) (processed bool, err error) {
	timeout := time.Duration(c.cfg.QueueTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := time.Duration(c.cfg.MinIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = time.Second
	}

	d, err := c.brk.GetWithSignalCheck(ctx, timeout, c.pause, poll)
	if err != nil {
		return false, fmt.Errorf("consumer: get delivery: %w", err)
	}
	if d == nil {
		return false, nil
	}

	c.metrics.SetActiveWorkers(1)
	defer c.metrics.SetActiveWorkers(0)

	return true, c.handle(ctx, d)
}

// RunContinuous loops RunOnce until ctx is canceled, logging per-delivery
// failures and continuing rather than aborting the loop — failures are
// retried via broker redelivery, not by the loop itself.
func (c *Consumer) RunContinuous(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := c.RunOnce(ctx)
		if err != nil {
			c.log.Error("delivery processing failed", "error", err)
		}

		if !processed && c.pause != nil && c.pause.Check() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pausedIdleSleep):
			}
		}
	}
}

// handle implements the 8-step per-delivery algorithm of spec.md §4.2.
func (c *Consumer) handle(ctx context.Context, d broker.Delivery) error {
	env := d.Envelope()
	log := c.log.With("uuid", env.UUID, "task_key", env.TaskKey.Canonical())

	// Idempotent short-circuit: a prior attempt may have already reached
	// completed/ right before a crash that preceded the ack (step 8's
	// at-least-once redelivery case).
	if dir, derr := contextstore.Locate(c.baseDir, env.UUID); derr == nil && dir == contextstore.DirCompleted {
		log.Info("delivery already terminal, acking without re-running")
		return d.Ack(ctx)
	}

	// Step 1: rebuild the Task from its TaskKey.
	trk, err := c.factory(ctx, env.TaskKey, env.UUID, env.Requester)
	if err != nil {
		log.Error("rebuild tracker failed", "error", err)
		return d.Nak(ctx)
	}

	// Step 2: re-check the in-progress label on a non-resumed delivery.
	if !env.IsResumed {
		inProgress, ierr := trk.IsInProgress(ctx)
		if ierr != nil {
			log.Error("in-progress label re-check failed", "error", ierr)
			return d.Nak(ctx)
		}
		if !inProgress {
			log.Info("in-progress label no longer present, acking without running")
			return d.Ack(ctx)
		}
	}

	// Step 3: initialize the context store.
	st, err := c.openContext(ctx, env, trk)
	if err != nil {
		log.Error("context store initialization failed", "error", err)
		return d.Nak(ctx)
	}
	defer st.Close()

	cloneURL, err := trk.CloneURL(ctx)
	if err != nil {
		log.Error("get clone url failed", "error", err)
		return d.Nak(ctx)
	}
	sourceBranch, err := trk.Branch(ctx)
	if err != nil {
		log.Error("get branch failed", "error", err)
		return d.Nak(ctx)
	}

	renewDone := make(chan struct{})
	go c.renewDelivery(ctx, d, renewDone)
	defer close(renewDone)

	// Step 4: run the planning coordinator.
	stop := signalmgr.NewStopChecker(trk, c.botName)
	runner := c.buildCoordinator(planning.TaskInfo{UUID: env.UUID, RepoCloneURL: cloneURL, Branch: sourceBranch}, st, trk, stop)

	result, rerr := runner.Run(ctx)
	if rerr != nil {
		log.Error("coordinator run returned an error", "error", rerr)
		return d.Nak(ctx)
	}

	// Steps 5-7: land the outcome, then ack only once the directory rename
	// (the authoritative terminal event) has succeeded.
	if err := c.finalize(ctx, env, result, trk); err != nil {
		log.Error("finalize failed", "error", err)
		return d.Nak(ctx)
	}

	return d.Ack(ctx)
}

// renewDelivery periodically extends d's visibility window while done is
// open, so the broker doesn't consider a long-running task abandoned.
func (c *Consumer) renewDelivery(ctx context.Context, d broker.Delivery, done <-chan struct{}) {
	ticker := time.NewTicker(deliveryRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.InProgress(); err != nil {
				c.log.Warn("delivery renewal failed", "error", err)
			}
		}
	}
}

// openContext implements step 3: on resume, transition paused/->running/
// and re-open in place; on a new task, create the context directory,
// insert its index row, and seed the first turn via inherit.Resolve.
func (c *Consumer) openContext(ctx context.Context, env broker.Envelope, trk tracker.Tracker) (*contextstore.Store, error) {
	if env.IsResumed {
		if err := contextstore.Transition(c.baseDir, env.UUID, contextstore.DirPaused, contextstore.DirRunning); err != nil {
			return nil, fmt.Errorf("resume transition: %w", err)
		}
		if err := c.idx.UpdateStatus(ctx, env.UUID, store.StatusRunning, ""); err != nil {
			c.log.Error("index status update on resume failed", "uuid", env.UUID, "error", err)
		}
		return contextstore.Open(c.baseDir, env.UUID)
	}

	now := time.Now().UTC()
	newStore, err := contextstore.Create(c.baseDir, contextstore.Metadata{
		UUID:        env.UUID,
		KeyHash:     env.TaskKey.Hash(),
		TaskKey:     env.TaskKey,
		TaskSource:  string(env.TaskKey.Source),
		TaskType:    string(env.TaskKey.Kind),
		Requester:   env.Requester,
		LLMProvider: c.deps.LLMProvider,
		Model:       c.deps.LLMModel,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}

	if err := c.idx.Insert(ctx, c.buildTaskRecord(env, now)); err != nil {
		newStore.Close()
		return nil, fmt.Errorf("insert index row: %w", err)
	}

	if _, err := inherit.Resolve(ctx, c.idx, c.baseDir, env.TaskKey, c.inheritCfg, newStore, trk); err != nil {
		newStore.Close()
		return nil, fmt.Errorf("inherit resolve: %w", err)
	}

	return newStore, nil
}

// buildTaskRecord maps a broker envelope's TaskKey onto a new index row.
// TaskRecord has no separate IID column: a GitLab merge request's IID is
// carried in the same Number field a GitHub issue/PR number uses, since
// the two are never populated together (Source picks exactly one).
func (c *Consumer) buildTaskRecord(env broker.Envelope, now time.Time) *store.TaskRecord {
	key := env.TaskKey
	number := key.Number
	if key.Source == taskkey.SourceGitLab {
		number = key.IID
	}

	return &store.TaskRecord{
		UUID:       env.UUID,
		KeyHash:    key.Hash(),
		TaskSource: string(key.Source),
		TaskType:   string(key.Kind),
		Owner:      key.Owner,
		Repo:       key.Repo,
		ProjectID:  key.ProjectID,
		Number:     number,

		Status: store.StatusRunning,

		CreatedAt: now,
		StartedAt: &now,

		ProcessID: os.Getpid(),
		Hostname:  c.hostname,

		LLMProvider:   c.deps.LLMProvider,
		Model:         c.deps.LLMModel,
		ContextLength: c.deps.ContextLength,

		Requester: env.Requester,
	}
}

// finalize implements steps 5-7: transition the context directory to its
// terminal home, then best-effort update the index row and tracker
// labels. The directory rename is the load-bearing step — spec.md §4.2
// step 8 acks only after it succeeds — so a rename failure is returned to
// the caller (which Naks), while index/label failures are logged but
// don't block the ack, since a retry after a successful rename would hit
// the idempotent short-circuit at the top of handle and do nothing.
func (c *Consumer) finalize(ctx context.Context, env broker.Envelope, result *planning.Result, trk tracker.Tracker) error {
	var dst contextstore.StatusDir
	var status store.Status

	switch result.Outcome {
	case planning.OutcomeCompleted:
		dst, status = contextstore.DirCompleted, store.StatusCompleted
	case planning.OutcomePaused:
		dst, status = contextstore.DirPaused, store.StatusPaused
	case planning.OutcomeStopped:
		dst, status = contextstore.DirCompleted, store.StatusStopped
	case planning.OutcomeFailed:
		dst, status = contextstore.DirCompleted, store.StatusFailed
	default:
		return fmt.Errorf("consumer: unknown outcome %q", result.Outcome)
	}

	if err := contextstore.Transition(c.baseDir, env.UUID, contextstore.DirRunning, dst); err != nil {
		return fmt.Errorf("transition to %s: %w", dst, err)
	}
	c.metrics.RecordTaskOutcome(string(status))

	if err := c.idx.UpdateStatus(ctx, env.UUID, status, result.ErrorMessage); err != nil {
		c.log.Error("index status update failed", "uuid", env.UUID, "error", err)
	}

	var labelErr error
	switch result.Outcome {
	case planning.OutcomeCompleted:
		labelErr = trk.Finish(ctx)
	case planning.OutcomePaused:
		labelErr = trk.FinishPaused(ctx)
	case planning.OutcomeStopped:
		labelErr = trk.FinishStopped(ctx)
	case planning.OutcomeFailed:
		labelErr = trk.FinishFailed(ctx)
		if _, cerr := trk.Comment(ctx, fmt.Sprintf("Task failed: %s", result.ErrorMessage)); cerr != nil {
			c.log.Error("failed to post error comment", "uuid", env.UUID, "error", cerr)
		}
	}
	if labelErr != nil {
		c.log.Error("tracker label finalize failed", "uuid", env.UUID, "error", labelErr)
	}

	return nil
}
