// Package taskkey provides the platform-normalized identity for a tracker
// work item (a GitHub issue/PR or a GitLab issue/MR), its canonical string
// form, and the stable hash derived from that form.
package taskkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Source identifies the tracker platform a Key originated from.
type Source string

// Supported tracker platforms.
const (
	SourceGitHub Source = "github"
	SourceGitLab Source = "gitlab"
)

// Kind identifies the entity type within a platform.
type Kind string

// Supported entity kinds. GitHub uses Issue/PullRequest; GitLab uses
// Issue/MergeRequest, but both map onto the same Kind vocabulary since the
// canonical form only needs to distinguish "issue-like" from "change-like".
const (
	KindIssue       Kind = "issue"
	KindPullRequest Kind = "pull_request"
	KindMergeRequest Kind = "merge_request"
)

// Key is the tagged-variant identity of a tracker work item. Exactly one of
// the GitHub or GitLab field groups is populated, selected by Source.
//
// This intentionally avoids a polymorphic inheritance hierarchy (platform
// variant -> per-entity variant): a single flat struct plus the Source/Kind
// tags is sufficient, and every consumer switches on Source rather than on
// a type hierarchy.
type Key struct {
	Source Source
	Kind   Kind

	// GitHub fields (Source == SourceGitHub).
	Owner  string
	Repo   string
	Number int

	// GitLab fields (Source == SourceGitLab).
	ProjectID int
	IID       int
}

// NewGitHub builds a Key for a GitHub issue or pull request.
func NewGitHub(kind Kind, owner, repo string, number int) Key {
	return Key{Source: SourceGitHub, Kind: kind, Owner: owner, Repo: repo, Number: number}
}

// NewGitLab builds a Key for a GitLab issue or merge request.
func NewGitLab(kind Kind, projectID, iid int) Key {
	return Key{Source: SourceGitLab, Kind: kind, ProjectID: projectID, IID: iid}
}

// Canonical returns the deterministic string form of the key, e.g.
// "github_issue:owner:repo:42" or "gitlab_merge_request:1337:9".
func (k Key) Canonical() string {
	switch k.Source {
	case SourceGitHub:
		return fmt.Sprintf("github_%s:%s:%s:%d", k.Kind, k.Owner, k.Repo, k.Number)
	case SourceGitLab:
		return fmt.Sprintf("gitlab_%s:%d:%d", k.Kind, k.ProjectID, k.IID)
	default:
		return fmt.Sprintf("unknown:%s:%s", k.Source, k.Kind)
	}
}

// Hash returns the SHA-256 hex digest of the canonical form. This is the
// stable cross-process identity used to key the index table and to look up
// prior completed runs for inheritance.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two keys have the same canonical form. Per the
// data-model invariant, equality on Key is equality on canonical form, not
// on the raw struct (which could otherwise differ only in unused fields).
func (k Key) Equal(other Key) bool {
	return k.Canonical() == other.Canonical()
}

// String implements fmt.Stringer by returning the canonical form.
func (k Key) String() string {
	return k.Canonical()
}
