package signalmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
	"github.com/codeready-toolchain/agentrunner/internal/tracker"
)

func TestPauseSignalCheckReflectsFilePresence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pause_signal")
	p := NewPauseSignal(path)
	defer p.Close()

	assert.False(t, p.Check())

	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))
	assert.True(t, p.Check())
}

func TestPauseSignalWaitReturnsImmediatelyWhenAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pause_signal")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	p := NewPauseSignal(path)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, p.Wait(ctx))
}

func TestPauseSignalWaitDetectsFileCreatedLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pause_signal")

	p := NewPauseSignal(path)
	defer p.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte{}, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.True(t, p.Wait(ctx))
}

func TestPauseSignalWaitReturnsFalseOnContextDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pause_signal")
	p := NewPauseSignal(path)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, p.Wait(ctx))
}

type erroringTracker struct {
	*tracker.MockTracker
	assigneesErr error
}

func (e *erroringTracker) GetAssignees(ctx context.Context) ([]string, error) {
	if e.assigneesErr != nil {
		return nil, e.assigneesErr
	}
	return e.MockTracker.GetAssignees(ctx)
}

func TestStopCheckerDetectsAssigneeRemoval(t *testing.T) {
	key := taskkey.NewGitHub(taskkey.KindIssue, "acme", "widgets", 1)
	mt := tracker.NewMockTracker(key, "fix it")
	mt.Assignees = []string{"agentbot", "alice"}

	checker := NewStopChecker(mt, "agentbot")
	assert.False(t, checker.Stopped(context.Background()))

	mt.Assignees = []string{"alice"}
	assert.True(t, checker.Stopped(context.Background()))
}

func TestStopCheckerSkipsOnTransientError(t *testing.T) {
	key := taskkey.NewGitHub(taskkey.KindIssue, "acme", "widgets", 1)
	mt := tracker.NewMockTracker(key, "fix it")
	e := &erroringTracker{MockTracker: mt, assigneesErr: errors.New("transient 503")}

	checker := NewStopChecker(e, "agentbot")
	assert.False(t, checker.Stopped(context.Background()))
}
