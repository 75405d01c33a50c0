package taskkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "github issue",
			key:  NewGitHub(KindIssue, "acme", "widgets", 42),
			want: "github_issue:acme:widgets:42",
		},
		{
			name: "github pull request",
			key:  NewGitHub(KindPullRequest, "acme", "widgets", 7),
			want: "github_pull_request:acme:widgets:7",
		},
		{
			name: "gitlab merge request",
			key:  NewGitLab(KindMergeRequest, 1337, 9),
			want: "gitlab_merge_request:1337:9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Canonical())
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestHashIsStableAndDistinguishesKeys(t *testing.T) {
	a := NewGitHub(KindIssue, "acme", "widgets", 42)
	b := NewGitHub(KindIssue, "acme", "widgets", 42)
	c := NewGitHub(KindIssue, "acme", "widgets", 43)

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Hash(), 64) // hex-encoded SHA-256
}

func TestEqual(t *testing.T) {
	a := NewGitHub(KindIssue, "acme", "widgets", 42)
	b := NewGitHub(KindIssue, "acme", "widgets", 42)
	c := NewGitLab(KindIssue, 1, 42)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
