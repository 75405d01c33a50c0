// Package inherit implements the inheritance resolver from spec.md §4.8:
// at pre-planning, look up a prior completed/stopped run of the same
// tracker item and seed the new task's context from its final summary.
package inherit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
	"github.com/codeready-toolchain/agentrunner/internal/store"
	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
	"github.com/codeready-toolchain/agentrunner/internal/tracker"
)

// Index is the narrow store capability the resolver needs, satisfied by
// *store.Client.
type Index interface {
	FindInheritable(ctx context.Context, keyHash string, expiry time.Duration, now time.Time) (*store.TaskRecord, error)
}

// Config carries the tunables from config.ContextInheritanceConfig.
type Config struct {
	ContextExpiryDays  int
	MaxInheritedTokens int
}

// Result reports what Resolve did, for logging/metrics.
type Result struct {
	Inherited   bool
	PriorUUID   string
	SummaryUsed int // tokens of inherited summary actually kept
}

// Resolve seeds newStore's first turn. If a prior completed/stopped run of
// key exists within the expiry window, it synthesizes two initial
// messages from that run's final summary plus the current tracker prompt
// and new comments; otherwise it falls back to the tracker prompt alone.
// A one-line notification comment is posted on inheritance.
func Resolve(ctx context.Context, idx Index, baseDir string, key taskkey.Key, cfg Config, newStore *contextstore.Store, trk tracker.Tracker) (*Result, error) {
	expiry := time.Duration(cfg.ContextExpiryDays) * 24 * time.Hour
	if cfg.ContextExpiryDays <= 0 {
		expiry = 90 * 24 * time.Hour
	}

	prior, err := idx.FindInheritable(ctx, key.Hash(), expiry, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return seedFresh(ctx, newStore, trk)
	}
	if err != nil {
		return nil, fmt.Errorf("inherit: lookup prior run: %w", err)
	}

	priorSummary, err := readFinalSummary(baseDir, prior.UUID)
	if err != nil {
		// A missing or unreadable prior summary degrades to a fresh start
		// rather than failing the whole task.
		return seedFresh(ctx, newStore, trk)
	}

	maxTokens := cfg.MaxInheritedTokens
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	truncated, usedTokens := truncateToTokenBudget(priorSummary, maxTokens)

	if _, err := newStore.AppendMessage(contextstore.RoleSystem, contextstore.SystemPrompt, ""); err != nil {
		return nil, fmt.Errorf("inherit: append system prompt: %w", err)
	}
	if _, err := newStore.AppendMessage(contextstore.RoleAssistant, "Previous session summary:\n"+truncated, ""); err != nil {
		return nil, fmt.Errorf("inherit: append summary message: %w", err)
	}

	body, err := buildCurrentPrompt(ctx, trk, prior.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("inherit: build current prompt: %w", err)
	}
	if _, err := newStore.AppendMessage(contextstore.RoleUser, body, ""); err != nil {
		return nil, fmt.Errorf("inherit: append prompt message: %w", err)
	}

	if _, err := trk.Comment(ctx, "Resuming with inherited context from a prior completed run."); err != nil {
		return nil, fmt.Errorf("inherit: post notification comment: %w", err)
	}

	return &Result{Inherited: true, PriorUUID: prior.UUID, SummaryUsed: usedTokens}, nil
}

func seedFresh(ctx context.Context, newStore *contextstore.Store, trk tracker.Tracker) (*Result, error) {
	if _, err := newStore.AppendMessage(contextstore.RoleSystem, contextstore.SystemPrompt, ""); err != nil {
		return nil, fmt.Errorf("inherit: append system prompt: %w", err)
	}
	body, err := trk.GetPrompt(ctx)
	if err != nil {
		return nil, fmt.Errorf("inherit: get tracker prompt: %w", err)
	}
	if _, err := newStore.AppendMessage(contextstore.RoleUser, body, ""); err != nil {
		return nil, fmt.Errorf("inherit: append prompt message: %w", err)
	}
	return &Result{Inherited: false}, nil
}

// buildCurrentPrompt renders the tracker item body plus any comments
// posted since the prior run's completion, per spec.md §4.8.
func buildCurrentPrompt(ctx context.Context, trk tracker.Tracker, since *time.Time) (string, error) {
	body, err := trk.GetPrompt(ctx)
	if err != nil {
		return "", err
	}
	if since == nil {
		return body, nil
	}

	comments, err := trk.GetComments(ctx)
	if err != nil {
		return "", err
	}

	out := body
	for _, c := range comments {
		if c.CreatedAt.After(*since) {
			out += fmt.Sprintf("\n\n[new comment from %s]\n%s", c.Author, c.Body)
		}
	}
	return out, nil
}

// readFinalSummary reads final_summary.txt from a prior task's context
// directory, wherever under baseDir it currently lives.
func readFinalSummary(baseDir, priorUUID string) (string, error) {
	return contextstore.ReadFinalSummary(baseDir, priorUUID)
}

// truncateToTokenBudget trims text to approximately maxTokens tokens
// (per contextstore.EstimateTokens's rule), cutting on a rune boundary
// from the tail. Returns the (possibly unchanged) text and its resulting
// token estimate.
func truncateToTokenBudget(text string, maxTokens int) (string, int) {
	tokens := contextstore.EstimateTokens(text)
	if tokens <= maxTokens {
		return text, tokens
	}

	runes := []rune(text)
	// EstimateTokens divides by 4 (or 2 for Japanese-majority text); use
	// the conservative divisor so we don't under-truncate.
	keepRunes := maxTokens * 2
	if keepRunes > len(runes) {
		keepRunes = len(runes)
	}
	truncated := string(runes[len(runes)-keepRunes:])
	return truncated, contextstore.EstimateTokens(truncated)
}
