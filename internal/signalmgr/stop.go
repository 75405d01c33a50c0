package signalmgr

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/agentrunner/internal/tracker"
)

// StopChecker polls a tracker item's assignee list to detect the stop
// signal (the orchestrator bot's assignee entry removed by a human).
type StopChecker struct {
	trk     tracker.Tracker
	botName string
}

// NewStopChecker builds a StopChecker for the given tracker item and bot
// username.
func NewStopChecker(trk tracker.Tracker, botName string) *StopChecker {
	return &StopChecker{trk: trk, botName: botName}
}

// Stopped reports whether the bot has been unassigned. Transient tracker
// API errors are tolerated (logged, check skipped, Stopped returns
// false) rather than treated as a stop request — per spec.md §4.7, "skip
// the check" on transient errors rather than misfire.
func (c *StopChecker) Stopped(ctx context.Context) bool {
	assignees, err := c.trk.GetAssignees(ctx)
	if err != nil {
		slog.Warn("stop signal: failed to fetch assignees, skipping check", "error", err)
		return false
	}
	for _, a := range assignees {
		if a == c.botName {
			return false
		}
	}
	return true
}
