package planning

import (
	"testing"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionFollowsStateMachine(t *testing.T) {
	assert.True(t, CanTransition(PhasePrePlanning, PhasePlanning))
	assert.True(t, CanTransition(PhaseExecution, PhaseReflection))
	assert.True(t, CanTransition(PhaseReflection, PhaseExecution))
	assert.True(t, CanTransition(PhaseVerification, PhaseComplete))
	assert.False(t, CanTransition(PhasePlanning, PhaseComplete))
	assert.False(t, CanTransition(PhasePrePlanning, PhaseExecution))
}

func TestExtractJSONStripsCodeFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, extractJSON(in))
}

func TestExtractJSONFindsEmbeddedObject(t *testing.T) {
	in := "Sure, here you go:\n{\"a\":1}\nHope that helps!"
	assert.Equal(t, `{"a":1}`, extractJSON(in))
}

func TestExtractJSONPassesThroughBareObject(t *testing.T) {
	in := `{"a":1}`
	assert.Equal(t, `{"a":1}`, extractJSON(in))
}

type sample struct {
	A int `json:"a"`
}

func TestParseWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	ask := func(string) (string, error) {
		calls++
		return `{"a":7}`, nil
	}
	v, raw, err := ParseWithRetry[sample]("prompt", ask)
	require.NoError(t, err)
	assert.Equal(t, 7, v.A)
	assert.Equal(t, `{"a":7}`, raw)
	assert.Equal(t, 1, calls)
}

func TestParseWithRetryRecoversAfterMalformedResponses(t *testing.T) {
	calls := 0
	ask := func(string) (string, error) {
		calls++
		if calls < 3 {
			return "not json at all", nil
		}
		return `{"a":42}`, nil
	}
	v, _, err := ParseWithRetry[sample]("prompt", ask)
	require.NoError(t, err)
	assert.Equal(t, 42, v.A)
	assert.Equal(t, 3, calls)
}

func TestParseWithRetryExhaustsAndFails(t *testing.T) {
	calls := 0
	ask := func(string) (string, error) {
		calls++
		return "still not json", nil
	}
	_, _, err := ParseWithRetry[sample]("prompt", ask)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseExhausted)
	assert.Equal(t, maxParseRetries, calls)
}

func TestReplanBudgetEvaluateAppliesWithinBudget(t *testing.T) {
	b := newReplanBudgetState(config.ReplanBudgets{Redecomposition: 1, Global: 10})
	d := ReplanDecision{ReplanNeeded: true, Confidence: 0.9, ReplanType: ReplanTaskRedecomposition}
	assert.Equal(t, replanApply, b.Evaluate(d))
	b.RecordApplied(d.ReplanType)
	assert.Equal(t, replanDrop, b.Evaluate(d))
}

func TestReplanBudgetLowConfidenceDropped(t *testing.T) {
	b := newReplanBudgetState(config.ReplanBudgets{})
	d := ReplanDecision{ReplanNeeded: true, Confidence: 0.1, ReplanType: ReplanPartialReplan}
	assert.Equal(t, replanDrop, b.Evaluate(d))
}

func TestReplanBudgetMidConfidenceClarifies(t *testing.T) {
	b := newReplanBudgetState(config.ReplanBudgets{})
	d := ReplanDecision{ReplanNeeded: true, Confidence: 0.4, ReplanType: ReplanPartialReplan}
	assert.Equal(t, replanClarify, b.Evaluate(d))
}

func TestReplanBudgetNotNeededDropped(t *testing.T) {
	b := newReplanBudgetState(config.ReplanBudgets{})
	d := ReplanDecision{ReplanNeeded: false, Confidence: 0.9}
	assert.Equal(t, replanDrop, b.Evaluate(d))
}

func TestReplanBudgetGlobalCapBlocksEvenFreshType(t *testing.T) {
	b := newReplanBudgetState(config.ReplanBudgets{Global: 1, Clarification: 5, Partial: 5})
	first := ReplanDecision{ReplanNeeded: true, Confidence: 0.9, ReplanType: ReplanClarificationRequest}
	assert.Equal(t, replanApply, b.Evaluate(first))
	b.RecordApplied(first.ReplanType)

	second := ReplanDecision{ReplanNeeded: true, Confidence: 0.9, ReplanType: ReplanPartialReplan}
	assert.Equal(t, replanDrop, b.Evaluate(second))
}

func TestIsBotCommentDetectsMarker(t *testing.T) {
	assert.True(t, IsBotComment("# 🤖 Task Execution Progress\n## 📊 Status\n"))
	assert.False(t, IsBotComment("just a regular human comment"))
}

func TestProgressCommentRenderShowsProgressAndChecklist(t *testing.T) {
	p := &progressComment{
		StartedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Phase:     PhaseExecution,
		Status:    "running",
		LLMCalls:  3,
		Checklist: []checklistItem{
			{ID: "create_readme", Label: "Create README", Done: true},
			{ID: "add_tests", Label: "Add tests", Done: false},
		},
	}
	out := p.render(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC))

	assert.Contains(t, out, progressMarker)
	assert.Contains(t, out, "Progress: 1/2 actions")
	assert.Contains(t, out, "- [x] **create_readme**: Create README")
	assert.Contains(t, out, "- [ ] **add_tests**: Add tests")
	assert.Contains(t, out, "LLM calls: 3")
}

func TestProgressCommentAddActionUsesAdditionalWorkSection(t *testing.T) {
	p := &progressComment{StartedAt: time.Now()}
	p.addAction("task_1", "original", "")
	p.addAction("additional_0", "fix edge case", "Additional Work")

	out := p.render(time.Now())
	assert.Contains(t, out, "### Additional Work")
	assert.Contains(t, out, "**additional_0**: fix edge case")
}

func TestSetCheckboxMarksExistingItemDone(t *testing.T) {
	p := &progressComment{Checklist: []checklistItem{{ID: "a", Label: "A"}}}
	p.setCheckbox("a", true)
	assert.True(t, p.Checklist[0].Done)
}
