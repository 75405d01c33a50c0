// Package contextstore implements the per-task, append-only conversation
// context: a directory of JSON-lines files that together form the durable
// audit log, the LLM-facing projection, and the planning/tool event logs
// for a single task's lifetime.
package contextstore

import (
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
)

// StatusDir is one of the three roots a context directory can live under.
type StatusDir string

const (
	DirRunning   StatusDir = "running"
	DirPaused    StatusDir = "paused"
	DirCompleted StatusDir = "completed"
)

// ChatRole mirrors the platform-neutral roles used in current.jsonl.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleTool      ChatRole = "tool"
)

// SystemPrompt is the fixed instruction every task's current.jsonl opens
// with — either as the first message.jsonl line (fresh task) or, per the
// inheritance round-trip law, as the line preceding the two synthetic
// inheritance messages. Kept here rather than duplicated between
// internal/planning and internal/inherit, since this package already owns
// the "current.jsonl always begins with the system prompt or a summary
// message" invariant.
const SystemPrompt = "You are an autonomous coding agent. You plan, execute, and verify " +
	"changes to a software repository inside a disposable sandbox, using the " +
	"command-execution and file-editing tools made available to you. Work the " +
	"task to completion, reporting progress as you go."

// Metadata is written once at context-directory creation time. TaskKey is
// carried in full (not just its Hash) so that a startup resumption sweep
// over paused/*/metadata.json can rehydrate a taskkey.Key without consulting
// the index database.
type Metadata struct {
	UUID        string      `json:"uuid"`
	KeyHash     string      `json:"key_hash"`
	TaskKey     taskkey.Key `json:"task_key"`
	TaskSource  string      `json:"task_source"`
	TaskType    string      `json:"task_type"`
	Requester   string      `json:"requester"`
	LLMProvider string      `json:"llm_provider"`
	Model       string      `json:"model"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MessageRecord is one line of messages.jsonl: the full, never-rewritten
// audit trail. Seq is dense and monotonically increasing.
type MessageRecord struct {
	Seq       int64     `json:"seq"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
	ToolName  string    `json:"tool_name,omitempty"`
}

// ChatMessage is one line of current.jsonl: the LLM-facing projection.
// Role/Content/ToolName are what a provider request needs; Seq threads
// back to the originating messages.jsonl record so the compressor can
// record an accurate start_seq/end_seq range in summaries.jsonl without
// re-deriving it from line position (which breaks after the first
// compression rewrites the prefix to a single synthetic message).
type ChatMessage struct {
	Role     ChatRole `json:"role"`
	Content  string   `json:"content"`
	ToolName string   `json:"tool_name,omitempty"`
	Seq      int64    `json:"seq,omitempty"`
}

// SummaryRecord is one line of summaries.jsonl.
type SummaryRecord struct {
	ID             int64     `json:"id"`
	StartSeq       int64     `json:"start_seq"`
	EndSeq         int64     `json:"end_seq"`
	Summary        string    `json:"summary"`
	OriginalTokens int       `json:"original_tokens"`
	SummaryTokens  int       `json:"summary_tokens"`
	Ratio          float64   `json:"ratio"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToolStatus is the outcome of a recorded tool invocation.
type ToolStatus string

const (
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// ToolRecord is one line of tools.jsonl.
type ToolRecord struct {
	Seq        int64      `json:"seq"`
	Tool       string     `json:"tool"`
	Args       any        `json:"args"`
	Result     string     `json:"result,omitempty"`
	Status     ToolStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PlanningEventType names the kind of event recorded in planning/{uuid}.jsonl.
type PlanningEventType string

const (
	PlanningPlan           PlanningEventType = "plan"
	PlanningRevision       PlanningEventType = "revision"
	PlanningReflection     PlanningEventType = "reflection"
	PlanningVerification   PlanningEventType = "verification"
	PlanningReplanDecision PlanningEventType = "replan_decision"
)

// PlanningRecord is one line of planning/{uuid}.jsonl.
type PlanningRecord struct {
	Type      PlanningEventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload"`
}
