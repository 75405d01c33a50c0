// Package tracker defines the capability interface every issue-tracker
// platform variant (GitHub, GitLab) must provide. Concrete client bodies
// (the actual GitHub/GitLab API calls) are out of scope per spec.md §1;
// this package fixes the contract the rest of the system programs
// against, plus a MockTracker test double.
package tracker

import (
	"context"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
)

// Comment is a single tracker comment.
type Comment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
}

// Tracker is the uniform capability surface the coordinator and signal
// manager program against, satisfied by one concrete client per platform
// (GitHub issues/PRs, GitLab issues/MRs). See spec.md §6 "Tracker client
// capability".
type Tracker interface {
	// Comment appends a new comment and returns its id.
	Comment(ctx context.Context, text string) (id string, err error)

	// UpdateComment replaces an existing comment's body in place. Used to
	// edit the single progress-comment-per-task in place rather than
	// posting a new comment on every planning update.
	UpdateComment(ctx context.Context, id, text string) error

	// GetComments fetches all comments, used for new-comment detection
	// (e.g. by the inheritance resolver, to fold in activity since the
	// last completed run).
	GetComments(ctx context.Context) ([]Comment, error)

	// GetAssignees returns the current assignee usernames. Used by the
	// stop-signal manager to detect assignee removal.
	GetAssignees(ctx context.Context) ([]string, error)

	// Prepare swaps the trigger label for the in-progress label. Called
	// by the producer before enqueueing.
	Prepare(ctx context.Context) error

	// IsInProgress reports whether the in-progress label is currently
	// present. Called by the consumer on a non-resumed delivery to
	// re-check that the trigger is still live before doing any work —
	// the user may have removed it between enqueue and delivery.
	IsInProgress(ctx context.Context) (bool, error)

	// Unprepare reverses Prepare: swaps the in-progress label back for the
	// trigger label. Called by the producer when Prepare succeeded but the
	// subsequent broker enqueue failed, so the item isn't stranded in
	// in-progress state with nothing actually queued.
	Unprepare(ctx context.Context) error

	// Finish sets the "completed" terminal label.
	Finish(ctx context.Context) error
	// FinishStopped sets the "stopped" terminal label.
	FinishStopped(ctx context.Context) error
	// FinishPaused sets the "paused" label.
	FinishPaused(ctx context.Context) error
	// FinishFailed sets the "failed" terminal label.
	FinishFailed(ctx context.Context) error

	// GetPrompt renders the issue/PR/MR body plus comments as the initial
	// user-turn message.
	GetPrompt(ctx context.Context) (string, error)

	// CloneURL returns a short-lived, credentialed clone URL for this
	// item's repository, for the environment manager's repo checkout. The
	// credential is never persisted; callers must not log the result.
	CloneURL(ctx context.Context) (string, error)

	// Branch returns the source branch to check out: the PR/MR's source
	// branch, or "" for a plain issue (checkout the repo's default branch).
	Branch(ctx context.Context) (string, error)

	// Key returns the TaskKey this tracker instance was built from.
	Key() taskkey.Key
}

// Factory constructs a Tracker for a given TaskKey, as named by spec.md
// §6's `from_task_key(key, uuid?, requester?) -> Task` constructor. The
// concrete factories (GitHub/GitLab) live outside this module's scope;
// this type documents the extension point consumers and the producer
// depend on.
type Factory func(ctx context.Context, key taskkey.Key, uuid, requester string) (Tracker, error)

// TriggeredItem is one open tracker item discovered by a Lister: the item's
// identity plus the requester attribution the producer threads through to
// Factory, the broker envelope, and eventually the index row.
type TriggeredItem struct {
	Key       taskkey.Key
	Requester string
}

// Lister discovers open work items bearing the trigger label and lacking
// the in-progress label, as spec.md §4.1's producer loop requires ("list
// items via tracker interface"). Implemented per-platform alongside the
// concrete Tracker bodies; out of this module's scope beyond the contract.
type Lister interface {
	ListTriggered(ctx context.Context) ([]TriggeredItem, error)
}
