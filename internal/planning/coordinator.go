package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/compress"
	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
	"github.com/codeready-toolchain/agentrunner/internal/health"
	"github.com/codeready-toolchain/agentrunner/internal/llmclient"
	"github.com/codeready-toolchain/agentrunner/internal/masking"
	"github.com/codeready-toolchain/agentrunner/internal/sandbox"
	"github.com/codeready-toolchain/agentrunner/internal/signalmgr"
	"github.com/codeready-toolchain/agentrunner/internal/tracker"
)

// Outcome is how Run returned: which terminal (or suspension) state the
// consumer should drive the task's context directory and tracker labels
// to next.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePaused    Outcome = "paused"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// TaskInfo is the narrow slice of task identity the coordinator needs; the
// consumer (not this package's concern) supplies it from the rebuilt Task.
type TaskInfo struct {
	UUID         string
	RepoCloneURL string
	Branch       string
}

// Result reports Run's outcome plus the final summary text for the
// consumer to act on (post a tracker comment, update the index row).
type Result struct {
	Outcome      Outcome
	ErrorMessage string
}

// Coordinator drives a single task through the phase state machine
// described in spec.md §4.6. One Coordinator instance serves exactly one
// task; it is not reused across tasks.
type Coordinator struct {
	task    TaskInfo
	store   *contextstore.Store
	llm     llmclient.Client
	sandbox *sandbox.Manager
	trk     tracker.Tracker
	masker  *masking.Service
	pause   *signalmgr.PauseSignal
	stop    *signalmgr.StopChecker

	summarizer  compress.Summarizer
	compressCfg compress.Config

	cfg config.PlanningConfig

	logger *slog.Logger

	phase          Phase
	plan           *Plan
	replanBudgets  *replanBudgetState
	comment        *progressComment
	llmCallCount   int
	actionsDone    int
	actionsSince   int // actions since last reflection, for trigger_interval
	revisionCount  int
	verifyRounds   int
	environmentReady bool

	metrics *health.Metrics
}

// SetMetrics attaches the process-wide metrics recorder. Optional: a
// Coordinator with no metrics attached records nothing. Must be called
// before Run.
func (c *Coordinator) SetMetrics(m *health.Metrics) {
	c.metrics = m
}

// New builds a Coordinator for one task. store must already be open
// (created fresh or resumed) and seeded with the initial user turn (e.g.
// by internal/inherit) before Run is called.
func New(task TaskInfo, store *contextstore.Store, llm llmclient.Client, mgr *sandbox.Manager, trk tracker.Tracker, masker *masking.Service, summarizer compress.Summarizer, compressCfg compress.Config, pause *signalmgr.PauseSignal, stop *signalmgr.StopChecker, cfg config.PlanningConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	budgets := cfg.Budgets
	if budgets.Revision <= 0 && cfg.Revision.MaxRevisions > 0 {
		budgets.Revision = cfg.Revision.MaxRevisions
	}
	return &Coordinator{
		task:          task,
		store:         store,
		llm:           llm,
		sandbox:       mgr,
		trk:           trk,
		masker:        masker,
		pause:         pause,
		stop:          stop,
		summarizer:    summarizer,
		compressCfg:   compressCfg,
		cfg:           cfg,
		logger:        logger.With("task_uuid", task.UUID),
		phase:         PhasePrePlanning,
		replanBudgets: newReplanBudgetState(budgets),
		comment:       &progressComment{StartedAt: time.Now().UTC(), Phase: PhasePrePlanning, Status: "running"},
	}
}

// Run drives the state machine to completion, pause, stop, or failure.
// Termination per spec.md §4.6: the LLM emits {done: true}, the per-task
// LLM-call budget is exhausted, or a fatal error path is reached.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	maxCalls := c.cfg.MaxLLMProcessNum
	if maxCalls <= 0 {
		maxCalls = 200
	}

	for c.phase != PhaseComplete {
		if c.llmCallCount >= maxCalls {
			return c.failAndFinalize(ctx, fmt.Sprintf("LLM call budget exhausted (%d calls)", c.llmCallCount))
		}

		if suspend := c.checkSuspension(ctx); suspend != "" {
			return c.suspend(ctx, suspend)
		}

		var err error
		switch c.phase {
		case PhasePrePlanning:
			err = c.runPrePlanning(ctx)
		case PhasePlanning:
			err = c.runPlanning(ctx)
		case PhaseEnvSetup:
			err = c.runEnvSetup(ctx)
		case PhaseExecution:
			err = c.runExecution(ctx)
		case PhaseReflection:
			err = c.runReflection(ctx)
		case PhaseVerification:
			err = c.runVerification(ctx)
		default:
			err = fmt.Errorf("planning: unknown phase %q", c.phase)
		}

		if err != nil {
			return c.failAndFinalize(ctx, err.Error())
		}
		c.comment.Phase = c.phase
		c.flushComment(ctx)
	}

	return c.completeAndFinalize(ctx)
}

// checkSuspension reports "pause", "stop", or "" per spec.md §4.7: checked
// at every action boundary, i.e. between phases and within the execution
// loop (see runExecution).
func (c *Coordinator) checkSuspension(ctx context.Context) string {
	if c.pause != nil && c.pause.Check() {
		return "pause"
	}
	if c.stop != nil && c.stop.Stopped(ctx) {
		return "stop"
	}
	return ""
}

func (c *Coordinator) suspend(ctx context.Context, kind string) (*Result, error) {
	if kind == "pause" {
		c.comment.Status = "paused"
		c.flushComment(ctx)
		return &Result{Outcome: OutcomePaused}, nil
	}
	c.comment.Status = "stopped"
	c.flushComment(ctx)
	return &Result{Outcome: OutcomeStopped}, nil
}

func (c *Coordinator) failAndFinalize(ctx context.Context, reason string) (*Result, error) {
	c.logger.Warn("task failed", "reason", reason)
	c.comment.Status = "failed"
	c.comment.addHistory("Task failed", reason)
	c.flushComment(ctx)

	if err := compress.FinalSummary(ctx, c.store, c.summarizer, c.compressCfg.SummaryPrompt); err != nil {
		c.logger.Warn("best-effort final summary failed", "error", err)
	}
	return &Result{Outcome: OutcomeFailed, ErrorMessage: reason}, nil
}

func (c *Coordinator) completeAndFinalize(ctx context.Context) (*Result, error) {
	c.comment.Status = "completed"
	c.flushComment(ctx)

	if err := compress.FinalSummary(ctx, c.store, c.summarizer, c.compressCfg.SummaryPrompt); err != nil {
		c.logger.Warn("final summary failed", "error", err)
	}
	return &Result{Outcome: OutcomeCompleted}, nil
}

// flushComment renders and posts/edits the single progress comment,
// creating it once (tracking the returned id) and editing it in place
// thereafter, per spec.md §4.6/§6. A prior bot comment found via
// IsBotComment is adopted on first flush instead of creating a duplicate.
func (c *Coordinator) flushComment(ctx context.Context) {
	if c.trk == nil {
		return
	}
	c.comment.LLMCalls = c.llmCallCount
	body := c.comment.render(time.Now().UTC())

	if c.comment.CommentID == "" {
		if existing, err := c.findExistingProgressComment(ctx); err == nil && existing != "" {
			c.comment.CommentID = existing
		}
	}

	if c.comment.CommentID == "" {
		id, err := c.trk.Comment(ctx, body)
		if err != nil {
			c.logger.Warn("failed to post progress comment", "error", err)
			return
		}
		c.comment.CommentID = id
		return
	}

	if err := c.trk.UpdateComment(ctx, c.comment.CommentID, body); err != nil {
		c.logger.Warn("failed to update progress comment", "error", err)
	}
}

func (c *Coordinator) findExistingProgressComment(ctx context.Context) (string, error) {
	comments, err := c.trk.GetComments(ctx)
	if err != nil {
		return "", err
	}
	for _, cm := range comments {
		if IsBotComment(cm.Body) {
			return cm.ID, nil
		}
	}
	return "", nil
}

// ask issues one LLM round-trip and returns its raw text. Shared by every
// phase's ParseWithRetry call.
func (c *Coordinator) ask(prompt string) (string, error) {
	resp, err := c.completeRound(prompt, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// askWithTools is like ask but offers tools as real function-calling
// definitions (spec.md §4.5/§4.6's execution-phase function-calling
// contract) and returns the full Response so the caller can inspect
// ToolCalls instead of only text content.
func (c *Coordinator) askWithTools(prompt string, tools []llmclient.ToolDefinition) (*llmclient.Response, error) {
	return c.completeRound(prompt, tools)
}

// completeRound appends prompt as a user turn, streams current.jsonl as the
// request body, issues the completion, and records the assistant reply.
func (c *Coordinator) completeRound(prompt string, tools []llmclient.ToolDefinition) (*llmclient.Response, error) {
	if _, err := c.store.AppendMessage(contextstore.RoleUser, prompt, ""); err != nil {
		return nil, fmt.Errorf("append prompt: %w", err)
	}

	messages, err := c.projectMessages()
	if err != nil {
		return nil, err
	}

	req := llmclient.Request{Messages: messages, Tools: tools}
	// current.jsonl's leading message is always either the system prompt or
	// (after compression) the synthetic summary that replaces it — per
	// provider convention that belongs in Request.System, not as a Messages
	// entry the Anthropic/OpenAI builders would otherwise have to special-case.
	if len(req.Messages) > 0 && req.Messages[0].Role == llmclient.RoleSystem {
		req.System = req.Messages[0].Content
		req.Messages = req.Messages[1:]
	}

	resp, err := c.llm.Complete(context.Background(), req)
	if err != nil {
		return nil, err
	}
	c.llmCallCount++

	recorded := resp.Content
	if recorded == "" && len(resp.ToolCalls) > 0 {
		recorded = describeToolCalls(resp.ToolCalls)
	}
	if _, err := c.store.AppendMessage(contextstore.RoleAssistant, recorded, ""); err != nil {
		return nil, fmt.Errorf("append response: %w", err)
	}

	if err := c.maybeCompress(); err != nil {
		c.logger.Warn("compression failed, continuing over budget", "error", err)
	}

	return resp, nil
}

// describeToolCalls renders a tool-calls-only response (no text content)
// into something readable for current.jsonl's assistant turn.
func describeToolCalls(calls []llmclient.ToolCall) string {
	parts := make([]string, len(calls))
	for i, tc := range calls {
		args, _ := json.Marshal(tc.Args)
		parts[i] = fmt.Sprintf("%s(%s)", tc.Name, args)
	}
	return strings.Join(parts, "; ")
}

// projectMessages streams current.jsonl into the provider-agnostic
// Message slice the LLM client expects, per spec.md §4.3's
// stream-don't-load-into-memory requirement applied at the call site
// (the file itself is bounded by compression, so holding the projected
// slice here is acceptable — only the summarizer needs the raw file
// concatenation).
func (c *Coordinator) projectMessages() ([]llmclient.Message, error) {
	f, err := c.store.StreamCurrent()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []llmclient.Message
	err = contextstore.ScanJSONL[contextstore.ChatMessage](f, func(m contextstore.ChatMessage) error {
		out = append(out, llmclient.Message{Role: llmclient.Role(m.Role), Content: m.Content})
		return nil
	})
	return out, err
}

func (c *Coordinator) maybeCompress() error {
	tokens, err := c.store.EstimateCurrentTokens()
	if err != nil {
		return err
	}
	if !compress.ShouldCompress(tokens, c.compressCfg.ContextLength, c.compressCfg.CompressionThreshold) {
		return nil
	}
	_, err = compress.Compress(context.Background(), c.store, c.summarizer, c.compressCfg)
	if err == compress.ErrNotEnoughToCompress {
		c.metrics.RecordCompression("skipped")
		return nil
	}
	if err == nil {
		c.metrics.RecordCompression("compressed")
	}
	return err
}
