package compress

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
)

type fakeSummarizer struct {
	summary string
	tokens  int
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, instructionPrompt, conversationText string) (string, int, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	return f.summary, f.tokens, nil
}

func newStoreWithMessages(t *testing.T, n int) *contextstore.Store {
	t.Helper()
	base := t.TempDir()
	store, err := contextstore.Create(base, contextstore.Metadata{
		UUID:      "task-compress",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for i := 0; i < n; i++ {
		_, err := store.AppendMessage(contextstore.RoleUser, "message body", "")
		require.NoError(t, err)
	}
	return store
}

func TestShouldCompress(t *testing.T) {
	assert.True(t, ShouldCompress(700, 1000, 0.7))
	assert.True(t, ShouldCompress(701, 1000, 0.7))
	assert.False(t, ShouldCompress(699, 1000, 0.7))
}

func TestCompressAbortsWhenPrefixTooSmall(t *testing.T) {
	store := newStoreWithMessages(t, 6)
	cfg := Config{KeepRecentMessages: 8, MinToCompress: 5, SummaryPrompt: "summarize"}
	sum := &fakeSummarizer{summary: "s", tokens: 10}

	_, err := Compress(context.Background(), store, sum, cfg)
	assert.ErrorIs(t, err, ErrNotEnoughToCompress)
	assert.Equal(t, 0, sum.calls)
}

func TestCompressRewritesCurrentWithSummaryPrefix(t *testing.T) {
	store := newStoreWithMessages(t, 20)
	cfg := Config{KeepRecentMessages: 8, MinToCompress: 5, SummaryPrompt: "summarize this"}
	sum := &fakeSummarizer{summary: "condensed summary", tokens: 42}

	result, err := Compress(context.Background(), store, sum, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.calls)
	assert.Equal(t, int64(1), result.StartSeq)
	assert.Equal(t, int64(12), result.EndSeq)
	assert.Equal(t, 42, result.SummaryTokens)

	n, err := store.CountCurrentLines()
	require.NoError(t, err)
	assert.Equal(t, 9, n) // 1 synthetic summary + 8 kept recent

	f, err := store.StreamCurrent()
	require.NoError(t, err)
	defer f.Close()

	var lines []contextstore.ChatMessage
	require.NoError(t, contextstore.ScanJSONL[contextstore.ChatMessage](f, func(m contextstore.ChatMessage) error {
		lines = append(lines, m)
		return nil
	}))
	require.Len(t, lines, 9)
	assert.Equal(t, contextstore.RoleSystem, lines[0].Role)
	assert.Equal(t, "condensed summary", lines[0].Content)
}

func TestCompressLeavesCurrentIntactOnSummarizerFailure(t *testing.T) {
	store := newStoreWithMessages(t, 20)
	cfg := Config{KeepRecentMessages: 8, MinToCompress: 5, SummaryPrompt: "summarize"}
	sum := &fakeSummarizer{err: errors.New("llm unavailable")}

	before, err := store.CountCurrentLines()
	require.NoError(t, err)

	_, err = Compress(context.Background(), store, sum, cfg)
	require.Error(t, err)

	after, err := store.CountCurrentLines()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFinalSummaryWritesFile(t *testing.T) {
	store := newStoreWithMessages(t, 5)
	sum := &fakeSummarizer{summary: "final recap", tokens: 5}

	require.NoError(t, FinalSummary(context.Background(), store, sum, "wrap up"))

	data, err := os.ReadFile(store.FinalSummaryPath())
	require.NoError(t, err)
	assert.Equal(t, "final recap", string(data))
}
