package consumer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrunner/internal/broker"
	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
	"github.com/codeready-toolchain/agentrunner/internal/health"
	"github.com/codeready-toolchain/agentrunner/internal/inherit"
	"github.com/codeready-toolchain/agentrunner/internal/planning"
	"github.com/codeready-toolchain/agentrunner/internal/signalmgr"
	"github.com/codeready-toolchain/agentrunner/internal/store"
	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
	"github.com/codeready-toolchain/agentrunner/internal/tracker"
)

// fakeIndex is an in-memory Index double keyed by uuid, avoiding the need
// for a live Postgres in these unit tests.
type fakeIndex struct {
	byUUID      map[string]*store.TaskRecord
	inheritable *store.TaskRecord
	insertErr   error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{byUUID: make(map[string]*store.TaskRecord)}
}

func (f *fakeIndex) Insert(ctx context.Context, r *store.TaskRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *r
	f.byUUID[r.UUID] = &cp
	return nil
}

func (f *fakeIndex) UpdateStatus(ctx context.Context, uuid string, status store.Status, errMsg string) error {
	r, ok := f.byUUID[uuid]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	r.ErrorMessage = errMsg
	return nil
}

func (f *fakeIndex) FindInheritable(ctx context.Context, keyHash string, expiry time.Duration, now time.Time) (*store.TaskRecord, error) {
	if f.inheritable == nil {
		return nil, store.ErrNotFound
	}
	return f.inheritable, nil
}

var _ Index = (*fakeIndex)(nil)
var _ inherit.Index = (*fakeIndex)(nil)

// fakeRunner is a canned Runner double, substituted for the real
// planning.Coordinator so these tests don't need Docker or LLM
// credentials.
type fakeRunner struct {
	result *planning.Result
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context) (*planning.Result, error) {
	f.calls++
	return f.result, f.err
}

func newConsumer(t *testing.T, brk broker.Broker, idx Index, factory tracker.Factory, runner Runner) (*Consumer, string) {
	t.Helper()
	base := t.TempDir()
	c := New(brk, factory, idx, base, inherit.Config{}, Dependencies{LLMProvider: "anthropic", LLMModel: "claude"},
		signalmgr.NewPauseSignal(base+"/PAUSE"), "agentrunner-bot", "host-1",
		config.PlanningConfig{}, config.ConsumerConfig{QueueTimeoutSeconds: 1, MinIntervalSeconds: 0}, nil)
	c.buildCoordinator = func(task planning.TaskInfo, st *contextstore.Store, trk tracker.Tracker, stop *signalmgr.StopChecker) Runner {
		return runner
	}
	return c, base
}

func testKey() taskkey.Key {
	return taskkey.NewGitHub(taskkey.KindIssue, "acme", "widgets", 7)
}

func trackerFactoryFor(mt *tracker.MockTracker) tracker.Factory {
	return func(ctx context.Context, key taskkey.Key, uuid, requester string) (tracker.Tracker, error) {
		return mt, nil
	}
}

func TestHandleNewTaskCompletesAndLandsInCompleted(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	mt.Label = "in-progress"
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomeCompleted}}

	brk := broker.NewMemoryBroker()
	c, base := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-1", Requester: "alice"}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	processed, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, 1, runner.calls)
	assert.True(t, contextstore.Exists(base, contextstore.DirCompleted, "task-1"))
	assert.False(t, contextstore.Exists(base, contextstore.DirRunning, "task-1"))
	assert.Equal(t, store.StatusCompleted, idx.byUUID["task-1"].Status)
	assert.Equal(t, "completed", mt.CurrentLabel())
}

func TestHandleNewTaskPausedLandsInPaused(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	mt.Label = "in-progress"
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomePaused}}

	brk := broker.NewMemoryBroker()
	c, base := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-2", Requester: "bob"}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, contextstore.Exists(base, contextstore.DirPaused, "task-2"))
	assert.Equal(t, store.StatusPaused, idx.byUUID["task-2"].Status)
	assert.Equal(t, "paused", mt.CurrentLabel())
}

func TestHandleFailedTaskPostsErrorComment(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	mt.Label = "in-progress"
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomeFailed, ErrorMessage: "boom"}}

	brk := broker.NewMemoryBroker()
	c, base := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-3", Requester: "carol"}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, contextstore.Exists(base, contextstore.DirCompleted, "task-3"))
	assert.Equal(t, store.StatusFailed, idx.byUUID["task-3"].Status)
	assert.Equal(t, "boom", idx.byUUID["task-3"].ErrorMessage)
	assert.Equal(t, "failed", mt.CurrentLabel())
	require.Len(t, mt.Comments, 1)
	assert.Contains(t, mt.Comments[0].Body, "boom")
}

func TestHandleSkipsWhenInProgressLabelRemoved(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	mt.Label = "triage" // user removed the trigger/in-progress label
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomeCompleted}}

	brk := broker.NewMemoryBroker()
	c, base := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-4", Requester: "dave"}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	processed, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, 0, runner.calls)
	assert.False(t, contextstore.Exists(base, contextstore.DirRunning, "task-4"))
	assert.Empty(t, idx.byUUID) // no index row created for a skipped delivery
}

func TestHandleResumedTaskMovesPausedToRunningThenCompletes(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomeCompleted}}

	brk := broker.NewMemoryBroker()
	c, base := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)

	paused, err := contextstore.Create(base, contextstore.Metadata{UUID: "task-5", TaskKey: testKey(), CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, paused.Close())
	require.NoError(t, contextstore.Transition(base, "task-5", contextstore.DirRunning, contextstore.DirPaused))
	idx.byUUID["task-5"] = &store.TaskRecord{UUID: "task-5", Status: store.StatusPaused}

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-5", Requester: "erin", IsResumed: true}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	_, err = c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, runner.calls)
	assert.True(t, contextstore.Exists(base, contextstore.DirCompleted, "task-5"))
	assert.Equal(t, store.StatusCompleted, idx.byUUID["task-5"].Status)
}

func TestHandleAlreadyTerminalShortCircuitsWithoutRerunning(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomeCompleted}}

	brk := broker.NewMemoryBroker()
	c, base := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)

	completed, err := contextstore.Create(base, contextstore.Metadata{UUID: "task-6", TaskKey: testKey(), CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, completed.Close())
	require.NoError(t, contextstore.Transition(base, "task-6", contextstore.DirRunning, contextstore.DirCompleted))

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-6", Requester: "frank"}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	_, err = c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, runner.calls, "a redelivered message for an already-terminal task must not re-run the coordinator")
}

func TestHandleNaksWhenResumedContextDirectoryMissing(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomeCompleted}}

	brk := broker.NewMemoryBroker()
	c, _ := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)

	// is_resumed=true but no paused/ directory was ever created for this
	// uuid, so the paused->running transition inside openContext fails,
	// forcing a Nak (the message is requeued, not acked) before the
	// coordinator ever runs.
	env := broker.Envelope{TaskKey: testKey(), UUID: "task-7", Requester: "grace", IsResumed: true}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	_, err := c.RunOnce(context.Background())
	require.NoError(t, err) // RunOnce reports the Nak's own error, not the handling failure
	assert.Equal(t, 1, brk.Len(), "failed delivery should be requeued by Nak")
	assert.Equal(t, 0, runner.calls)
}

func TestBuildTaskRecordMapsGitLabIIDOntoNumber(t *testing.T) {
	idx := newFakeIndex()
	c, _ := newConsumer(t, broker.NewMemoryBroker(), idx, nil, nil)

	key := taskkey.NewGitLab(taskkey.KindMergeRequest, 1337, 9)
	env := broker.Envelope{TaskKey: key, UUID: "task-8", Requester: "heidi"}

	rec := c.buildTaskRecord(env, time.Now().UTC())
	assert.Equal(t, 1337, rec.ProjectID)
	assert.Equal(t, 9, rec.Number)
}

func TestRunOnceReturnsFalseOnEmptyQueue(t *testing.T) {
	idx := newFakeIndex()
	c, _ := newConsumer(t, broker.NewMemoryBroker(), idx, nil, nil)
	c.cfg.QueueTimeoutSeconds = 1
	c.cfg.MinIntervalSeconds = 0

	processed, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunContinuousStopsOnContextCancel(t *testing.T) {
	idx := newFakeIndex()
	c, _ := newConsumer(t, broker.NewMemoryBroker(), idx, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunContinuous(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunContinuous did not stop after context cancellation")
	}
}

func TestHandleRecordsTaskOutcomeMetric(t *testing.T) {
	mt := tracker.NewMockTracker(testKey(), "do the thing")
	mt.Label = "in-progress"
	idx := newFakeIndex()
	runner := &fakeRunner{result: &planning.Result{Outcome: planning.OutcomeCompleted}}

	brk := broker.NewMemoryBroker()
	c, _ := newConsumer(t, brk, idx, trackerFactoryFor(mt), runner)
	m := health.NewMetrics()
	c.metrics = m

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-10", Requester: "judy"}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksProcessed.WithLabelValues("completed")))
}

func TestHandleRebuildTrackerFailureNaks(t *testing.T) {
	idx := newFakeIndex()
	factory := tracker.Factory(func(ctx context.Context, key taskkey.Key, uuid, requester string) (tracker.Tracker, error) {
		return nil, fmt.Errorf("boom")
	})
	brk := broker.NewMemoryBroker()
	c, _ := newConsumer(t, brk, idx, factory, &fakeRunner{})

	env := broker.Envelope{TaskKey: testKey(), UUID: "task-9", Requester: "ivan"}
	require.NoError(t, brk.Enqueue(context.Background(), env))

	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, brk.Len())
}
