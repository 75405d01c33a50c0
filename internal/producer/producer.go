// Package producer implements the producer loop (spec.md §4.1): poll the
// tracker for open, trigger-labeled work, hand each item to the broker
// exactly once per label transition, sweep paused tasks back onto the
// broker on startup, and periodically ask the environment manager to
// clean up stale containers.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/codeready-toolchain/agentrunner/internal/broker"
	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
	"github.com/codeready-toolchain/agentrunner/internal/health"
	"github.com/codeready-toolchain/agentrunner/internal/lockfile"
	"github.com/codeready-toolchain/agentrunner/internal/tracker"
)

// ContainerCleaner is the subset of sandbox.Manager the producer needs for
// its periodic stale-container sweep.
type ContainerCleaner interface {
	CleanupStaleContainers(ctx context.Context) error
}

// Producer drives spec.md §4.1's run_once/run_continuous loop.
type Producer struct {
	lister  tracker.Lister
	factory tracker.Factory
	brk     broker.Broker
	cleaner ContainerCleaner

	baseDir  string // context storage base dir, for the resumption sweep
	lockPath string

	cfg config.ProducerConfig

	metrics *health.Metrics

	log *slog.Logger
}

// New builds a Producer. lockPath is the file RunContinuous flocks to
// serialize passes across hosts sharing baseDir's filesystem. cleaner may
// be nil, in which case the periodic stale-container sweep is skipped.
// metrics may be nil (recording becomes a no-op).
func New(lister tracker.Lister, factory tracker.Factory, brk broker.Broker, cleaner ContainerCleaner, baseDir, lockPath string, cfg config.ProducerConfig, metrics *health.Metrics) *Producer {
	return &Producer{
		lister:   lister,
		factory:  factory,
		brk:      brk,
		cleaner:  cleaner,
		baseDir:  baseDir,
		lockPath: lockPath,
		cfg:      cfg,
		metrics:  metrics,
		log:      slog.With("component", "producer"),
	}
}

// RunOnce performs a single pass: list triggered items, and for each one
// not already claimed (filtering is the tracker's job, per ListTriggered's
// contract), prepare the tracker item and enqueue it. A per-item failure
// is logged and does not abort the remaining items in the batch; RunOnce
// returns a joined error of every item that failed, or nil if all
// succeeded.
func (p *Producer) RunOnce(ctx context.Context) error {
	items, err := p.lister.ListTriggered(ctx)
	if err != nil {
		p.metrics.RecordProducerPass("error")
		return fmt.Errorf("producer: list triggered items: %w", err)
	}
	p.metrics.SetQueueDepth(len(items))

	var errs []error
	for _, item := range items {
		if err := p.dispatch(ctx, item, false); err != nil {
			p.log.Error("failed to dispatch item", "task_key", item.Key.Canonical(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", item.Key.Canonical(), err))
		}
	}

	joined := errors.Join(errs...)
	if joined != nil {
		p.metrics.RecordProducerPass("error")
	} else {
		p.metrics.RecordProducerPass("ok")
	}
	return joined
}

// dispatch prepares one tracker item and enqueues it, rolling the label
// back if the enqueue fails so the item isn't stranded in-progress with
// nothing actually queued.
func (p *Producer) dispatch(ctx context.Context, item tracker.TriggeredItem, resumed bool) error {
	id := uuid.NewString()

	trk, err := p.factory(ctx, item.Key, id, item.Requester)
	if err != nil {
		return fmt.Errorf("build tracker: %w", err)
	}

	if !resumed {
		if err := trk.Prepare(ctx); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
	}

	env := broker.Envelope{
		TaskKey:   item.Key,
		UUID:      id,
		Requester: item.Requester,
		IsResumed: resumed,
	}
	if err := p.brk.Enqueue(ctx, env); err != nil {
		if !resumed {
			if rbErr := trk.Unprepare(ctx); rbErr != nil {
				p.log.Error("label rollback failed after enqueue error", "task_key", item.Key.Canonical(), "error", rbErr)
			}
		}
		return fmt.Errorf("enqueue: %w", err)
	}

	p.log.Info("dispatched task", "task_key", item.Key.Canonical(), "uuid", id, "resumed", resumed)
	return nil
}

// ResumeSweep performs the one-shot startup resumption sweep: enumerate
// every paused task's metadata.json, rehydrate its TaskKey, and enqueue it
// with is_resumed=true. Unlike RunOnce, no tracker.Prepare call happens —
// the in-progress label was already set the first time this task was
// dispatched and Prepare is not idempotent across a resume (it would try
// to remove a trigger label that's no longer present).
func (p *Producer) ResumeSweep(ctx context.Context) error {
	uuids, err := contextstore.ListUUIDs(p.baseDir, contextstore.DirPaused)
	if err != nil {
		return fmt.Errorf("producer: list paused tasks: %w", err)
	}

	var errs []error
	for _, id := range uuids {
		store, err := contextstore.Open(p.baseDir, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("open paused %s: %w", id, err))
			continue
		}
		meta, err := store.ReadMetadata()
		store.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("read metadata for %s: %w", id, err))
			continue
		}

		env := broker.Envelope{
			TaskKey:   meta.TaskKey,
			UUID:      meta.UUID,
			Requester: meta.Requester,
			IsResumed: true,
		}
		if err := p.brk.Enqueue(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("re-enqueue %s: %w", id, err))
			continue
		}
		p.log.Info("resumed paused task", "uuid", meta.UUID, "task_key", meta.TaskKey.Canonical())
	}
	return errors.Join(errs...)
}

// runCleanupSweep invokes the environment manager's stale-container sweep,
// tolerating a nil cleaner (sandbox disabled).
func (p *Producer) runCleanupSweep(ctx context.Context) {
	if p.cleaner == nil {
		return
	}
	if err := p.cleaner.CleanupStaleContainers(ctx); err != nil {
		p.log.Error("stale container sweep failed", "error", err)
	}
}

// RunContinuous performs the startup resumption sweep, then wakes every
// cfg.IntervalMinutes to run a flock-guarded RunOnce pass, and every
// cfg.CleanupIntervalHours to run the stale-container sweep, until ctx is
// canceled or stop reports true. It returns after the in-flight pass (if
// any) completes.
func (p *Producer) RunContinuous(ctx context.Context, stop broker.StopSignal) error {
	if err := p.ResumeSweep(ctx); err != nil {
		p.log.Error("startup resumption sweep failed", "error", err)
	}

	interval := p.cfg.IntervalMinutes
	if interval <= 0 {
		interval = 5
	}

	c := cron.New()

	if _, err := c.AddFunc(fmt.Sprintf("@every %dm", interval), func() {
		if stop != nil && stop.Stopped(ctx) {
			return
		}
		p.runLockedPass(ctx)
	}); err != nil {
		return fmt.Errorf("producer: schedule interval: %w", err)
	}

	if p.cfg.CleanupIntervalHours > 0 {
		if _, err := c.AddFunc(fmt.Sprintf("@every %dh", p.cfg.CleanupIntervalHours), func() {
			p.runCleanupSweep(ctx)
		}); err != nil {
			return fmt.Errorf("producer: schedule cleanup: %w", err)
		}
	}

	c.Start()
	defer func() { <-c.Stop().Done() }()

	if p.cfg.DelayFirstRun {
		// cron's @every fires its first tick only after one interval has
		// elapsed; that is the desired behavior, so nothing else to do.
	} else {
		p.runLockedPass(ctx)
	}

	<-ctx.Done()
	return nil
}

// runLockedPass acquires the cross-host advisory lock and runs one pass.
// If the lock is already held by another producer process, the tick is
// skipped rather than treated as an error.
func (p *Producer) runLockedPass(ctx context.Context) {
	lock, err := lockfile.TryAcquire(p.lockPath)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			p.log.Debug("skipping pass, another producer holds the lock")
			return
		}
		p.log.Error("failed to acquire producer lock", "error", err)
		return
	}
	defer lock.Unlock()

	if err := p.RunOnce(ctx); err != nil {
		p.log.Error("run_once completed with errors", "error", err)
	}
}
