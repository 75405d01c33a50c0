// Package store provides the Postgres-backed task index: the single
// source-of-truth row per task that survives process restarts, drives
// resumption sweeps, and anchors inheritance lookups by key hash.
package store

import "time"

// Status is a TaskRecord's lifecycle state. Transitions are monotonic:
// running -> {paused, completed, failed, stopped}, paused -> running (on
// resume, same uuid, no new row).
type Status string

// Task lifecycle states.
const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status represents a finished task (one that
// will never transition again).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// TaskRecord is the index row for a single task. Exactly one row exists per
// UUID; the row's status must always match the status_dir of the task's
// context directory on disk (running/paused/completed, with completed,
// failed and stopped all housed under completed/).
type TaskRecord struct {
	UUID string

	KeyHash    string
	TaskSource string // "github" | "gitlab"
	TaskType   string // "issue" | "pull_request" | "merge_request"
	Owner      string
	Repo       string
	ProjectID  int
	Number     int

	Status Status

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ProcessID int
	Hostname  string

	LLMProvider   string
	Model         string
	ContextLength int

	LLMCallCount     int
	ToolCallCount    int
	TotalTokens      int
	CompressionCount int

	ErrorMessage string
	Requester    string
}
