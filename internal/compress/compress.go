// Package compress implements the token-pressure-triggered context
// compressor described in spec.md §4.4: it collapses the summarized
// prefix of a task's current.jsonl into a single synthetic system
// message, and produces the final whole-conversation summary on
// completion.
package compress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
)

// Summarizer is the narrow LLM capability the compressor needs: turn a
// block of conversation text into a summary. Satisfied by
// internal/llmclient.Client via a thin adapter; kept separate here so
// this package depends on an interface, not a concrete provider SDK.
type Summarizer interface {
	Summarize(ctx context.Context, instructionPrompt, conversationText string) (summary string, summaryTokens int, err error)
}

// Config mirrors the subset of config.ContextStorageConfig plus the
// selected LLM provider's context window that the compressor needs.
type Config struct {
	CompressionThreshold float64
	KeepRecentMessages   int
	MinToCompress        int
	SummaryPrompt        string
	ContextLength        int
}

// ErrNotEnoughToCompress is returned by Compress when the prefix available
// to summarize is smaller than MinToCompress; the caller should proceed
// without compressing and may retry at the next turn boundary.
var ErrNotEnoughToCompress = fmt.Errorf("compress: prefix too small to compress")

// Result reports what a successful Compress call did.
type Result struct {
	StartSeq       int64
	EndSeq         int64
	OriginalTokens int
	SummaryTokens  int
}

// ShouldCompress reports whether current.jsonl's estimated token count
// exceeds contextLength x threshold. The comparison is inclusive: equal to
// the boundary triggers compression.
func ShouldCompress(currentTokens, contextLength int, threshold float64) bool {
	return float64(currentTokens) >= float64(contextLength)*threshold
}

// Compress runs one compression pass against store, per spec.md §4.4:
// split current.jsonl into a summarized prefix and a kept-recent suffix,
// summarize the prefix via summarizer, and atomically rewrite
// current.jsonl to [synthetic summary message] + [kept-recent suffix].
//
// Returns ErrNotEnoughToCompress (not an error condition for the caller)
// when the prefix is below MinToCompress; current.jsonl is left untouched
// in every non-nil-error path.
func Compress(ctx context.Context, store *contextstore.Store, summarizer Summarizer, cfg Config) (*Result, error) {
	total, err := store.CountCurrentLines()
	if err != nil {
		return nil, fmt.Errorf("compress: count current.jsonl lines: %w", err)
	}

	keepRecent := cfg.KeepRecentMessages
	if keepRecent <= 0 {
		keepRecent = 8
	}
	prefixCount := total - keepRecent
	minToCompress := cfg.MinToCompress
	if minToCompress <= 0 {
		minToCompress = 5
	}
	if prefixCount < minToCompress {
		return nil, ErrNotEnoughToCompress
	}

	prefix, suffix, err := splitCurrent(store, prefixCount)
	if err != nil {
		return nil, fmt.Errorf("compress: split current.jsonl: %w", err)
	}
	if len(prefix) == 0 {
		return nil, ErrNotEnoughToCompress
	}

	originalTokens := 0
	var text strings.Builder
	text.WriteString(cfg.SummaryPrompt)
	text.WriteString("\n\n")
	for _, m := range prefix {
		originalTokens += contextstore.EstimateTokens(m.Content)
		fmt.Fprintf(&text, "[%s] %s\n", m.Role, m.Content)
	}

	summary, summaryTokens, err := summarizer.Summarize(ctx, cfg.SummaryPrompt, text.String())
	if err != nil {
		slog.Warn("compress: summarizer call failed, leaving current.jsonl intact", "error", err, "task_uuid", store.UUID())
		return nil, fmt.Errorf("compress: summarize: %w", err)
	}

	startSeq := prefix[0].Seq
	endSeq := prefix[len(prefix)-1].Seq

	if _, err := store.AppendSummary(startSeq, endSeq, summary, originalTokens, summaryTokens); err != nil {
		return nil, fmt.Errorf("compress: append summaries.jsonl: %w", err)
	}

	rewritten := make([]contextstore.ChatMessage, 0, len(suffix)+1)
	rewritten = append(rewritten, contextstore.ChatMessage{
		Role:    contextstore.RoleSystem,
		Content: summary,
	})
	rewritten = append(rewritten, suffix...)

	if err := store.ReplaceCurrent(rewritten); err != nil {
		return nil, fmt.Errorf("compress: replace current.jsonl: %w", err)
	}

	return &Result{
		StartSeq:       startSeq,
		EndSeq:         endSeq,
		OriginalTokens: originalTokens,
		SummaryTokens:  summaryTokens,
	}, nil
}

// splitCurrent reads current.jsonl once and partitions it at prefixCount:
// the first prefixCount messages become the summarized portion, the rest
// are kept verbatim. Both slices are small (bounded by current.jsonl's
// size, which compression itself keeps under control) so holding them is
// acceptable here even though the line-counting pass above streams.
func splitCurrent(store *contextstore.Store, prefixCount int) (prefix, suffix []contextstore.ChatMessage, err error) {
	f, err := store.StreamCurrent()
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	i := 0
	err = contextstore.ScanJSONL[contextstore.ChatMessage](f, func(m contextstore.ChatMessage) error {
		if i < prefixCount {
			prefix = append(prefix, m)
		} else {
			suffix = append(suffix, m)
		}
		i++
		return nil
	})
	return prefix, suffix, err
}

// FinalSummary runs the same summarization mechanism over the *entire*
// messages.jsonl audit log and writes the result to final_summary.txt, per
// spec.md §4.4's "same mechanism over the entire messages.jsonl" rule.
// Used on normal completion, and best-effort on failure.
func FinalSummary(ctx context.Context, store *contextstore.Store, summarizer Summarizer, summaryPrompt string) error {
	f, err := store.StreamMessages()
	if err != nil {
		return fmt.Errorf("compress: open messages.jsonl: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	text.WriteString(summaryPrompt)
	text.WriteString("\n\n")
	err = contextstore.ScanJSONL[contextstore.MessageRecord](f, func(m contextstore.MessageRecord) error {
		fmt.Fprintf(&text, "[%s] %s\n", m.Role, m.Content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("compress: scan messages.jsonl: %w", err)
	}

	summary, _, err := summarizer.Summarize(ctx, summaryPrompt, text.String())
	if err != nil {
		return fmt.Errorf("compress: summarize final: %w", err)
	}

	return store.WriteFinalSummary(summary)
}
