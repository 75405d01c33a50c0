package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/agentrunner/internal/llmclient"
)

// LLMScriptEntry is one scripted reply: either a successful completion
// body or an error to return instead, modeled on the teacher's
// LLMScriptEntry but without the agent-name routing half of that design
// (agentrunner drives a single coordinator per task, not many named
// parallel-stage agents).
type LLMScriptEntry struct {
	Text  string
	Error error
}

// ScriptedLLMClient implements llmclient.Client by replaying a fixed
// sequence of responses in order, one per Complete call. Scenario tests
// build one of these with exactly the sequence spec.md §8 describes for
// that scenario's task lifecycle, including the trailing entry every
// scenario needs for the coordinator's unconditional final-summary call.
type ScriptedLLMClient struct {
	mu      sync.Mutex
	entries []LLMScriptEntry
	next    int
	calls   []llmclient.Request
}

// NewScriptedLLMClient builds an empty script; use Add to append replies.
func NewScriptedLLMClient(entries ...LLMScriptEntry) *ScriptedLLMClient {
	return &ScriptedLLMClient{entries: entries}
}

// Add appends one scripted reply to the end of the sequence.
func (s *ScriptedLLMClient) Add(text string) *ScriptedLLMClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, LLMScriptEntry{Text: text})
	return s
}

// AddError appends one scripted failure to the end of the sequence.
func (s *ScriptedLLMClient) AddError(err error) *ScriptedLLMClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, LLMScriptEntry{Error: err})
	return s
}

// Complete implements llmclient.Client, replaying entries in order.
func (s *ScriptedLLMClient) Complete(_ context.Context, req llmclient.Request) (*llmclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)

	if s.next >= len(s.entries) {
		return nil, fmt.Errorf("e2e: scripted LLM client exhausted after %d calls (call %d requested)", len(s.entries), s.next+1)
	}
	entry := s.entries[s.next]
	s.next++

	if entry.Error != nil {
		return nil, entry.Error
	}
	return &llmclient.Response{
		Content:      entry.Text,
		InputTokens:  estimateTokens(req),
		OutputTokens: len(entry.Text) / 4,
		StopReason:   "end_turn",
	}, nil
}

// Name implements llmclient.Client.
func (s *ScriptedLLMClient) Name() string { return "scripted" }

// CallCount reports how many Complete calls have been consumed so far,
// for asserting a scenario's exact expected LLM call count.
func (s *ScriptedLLMClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Calls returns every request seen so far, for scenarios that need to
// inspect prompt content (e.g. asserting inheritance's synthetic summary
// message appears in the projected conversation).
func (s *ScriptedLLMClient) Calls() []llmclient.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llmclient.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// estimateTokens gives the compressor something proportional to work
// with without pulling in a real tokenizer, matching the rough per-char
// heuristic internal/compress itself uses for EstimateCurrentTokens.
func estimateTokens(req llmclient.Request) int {
	total := len(req.System)
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total / 4
}
