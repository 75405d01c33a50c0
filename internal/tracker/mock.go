package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
)

// MockTracker is a thread-safe in-memory Tracker used by coordinator,
// producer, and consumer tests. Comments/labels/assignees are captured
// for assertion rather than sent anywhere.
type MockTracker struct {
	mu sync.Mutex

	key taskkey.Key

	Prompt      string   // returned by GetPrompt
	Assignees   []string // returned by GetAssignees
	Comments    []Comment
	RepoURL     string // returned by CloneURL
	SourceBranch string // returned by Branch

	Label      string // last label set by Prepare/Finish*
	nextCommentID int

	PrepareErr      error
	UnprepareErr    error
	CommentErr      error
	IsInProgressErr error
}

// NewMockTracker builds a MockTracker for key with an initial prompt.
func NewMockTracker(key taskkey.Key, prompt string) *MockTracker {
	return &MockTracker{key: key, Prompt: prompt, Label: "triage"}
}

func (m *MockTracker) Key() taskkey.Key { return m.key }

func (m *MockTracker) Comment(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommentErr != nil {
		return "", m.CommentErr
	}

	m.nextCommentID++
	id := fmt.Sprintf("comment-%d", m.nextCommentID)
	m.Comments = append(m.Comments, Comment{ID: id, Author: "agentrunner-bot", Body: text, CreatedAt: time.Now().UTC()})
	return id, nil
}

func (m *MockTracker) UpdateComment(ctx context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.Comments {
		if m.Comments[i].ID == id {
			m.Comments[i].Body = text
			return nil
		}
	}
	return fmt.Errorf("mock tracker: comment %s not found", id)
}

func (m *MockTracker) GetComments(ctx context.Context) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Comment, len(m.Comments))
	copy(out, m.Comments)
	return out, nil
}

func (m *MockTracker) GetAssignees(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.Assignees))
	copy(out, m.Assignees)
	return out, nil
}

func (m *MockTracker) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PrepareErr != nil {
		return m.PrepareErr
	}
	m.Label = "in-progress"
	return nil
}

// Unprepare reverses Prepare, restoring the trigger label. Mirrors the
// rollback producers perform when Prepare succeeds but the subsequent
// enqueue fails.
func (m *MockTracker) Unprepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UnprepareErr != nil {
		return m.UnprepareErr
	}
	m.Label = "triage"
	return nil
}

// IsInProgress reports whether Label currently holds the in-progress
// value, mirroring the re-check the consumer performs on non-resumed
// deliveries.
func (m *MockTracker) IsInProgress(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsInProgressErr != nil {
		return false, m.IsInProgressErr
	}
	return m.Label == "in-progress", nil
}

func (m *MockTracker) Finish(ctx context.Context) error        { return m.setLabel("completed") }
func (m *MockTracker) FinishStopped(ctx context.Context) error  { return m.setLabel("stopped") }
func (m *MockTracker) FinishPaused(ctx context.Context) error   { return m.setLabel("paused") }
func (m *MockTracker) FinishFailed(ctx context.Context) error   { return m.setLabel("failed") }

func (m *MockTracker) GetPrompt(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Prompt, nil
}

func (m *MockTracker) CloneURL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RepoURL, nil
}

func (m *MockTracker) Branch(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SourceBranch, nil
}

func (m *MockTracker) setLabel(label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Label = label
	return nil
}

// CurrentLabel returns the last label applied, for test assertions.
func (m *MockTracker) CurrentLabel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Label
}

var _ Tracker = (*MockTracker)(nil)

// MockLister is a canned Lister test double: Items is returned verbatim
// (or Err, if set) from ListTriggered.
type MockLister struct {
	Items []TriggeredItem
	Err   error
}

func (l *MockLister) ListTriggered(ctx context.Context) ([]TriggeredItem, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Items, nil
}

var _ Lister = (*MockLister)(nil)
