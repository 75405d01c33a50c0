package planning

import "github.com/codeready-toolchain/agentrunner/internal/config"

// replanBudgetState tracks how many times each replan type has been
// applied for one task, plus the global counter, against the configured
// budgets (spec.md §4.6: "per-phase limits: clarification 2,
// redecomposition 3, regeneration 3, partial 2, revision 2; global: 10").
type replanBudgetState struct {
	budgets config.ReplanBudgets

	clarification   int
	redecomposition int
	regeneration    int
	partial         int
	revision        int
	global          int
}

func newReplanBudgetState(budgets config.ReplanBudgets) *replanBudgetState {
	return &replanBudgetState{budgets: budgets}
}

// replanOutcome is the result of evaluating a ReplanDecision against
// budgets and confidence.
type replanOutcome int

const (
	replanApply replanOutcome = iota
	replanClarify
	replanDrop
)

// Evaluate applies spec.md §4.6's replan-decision rule: apply only if
// replan_needed AND the per-type counter is below its budget AND the
// global counter is below its budget AND confidence >= 0.5; in
// [0.3, 0.5) post a clarification comment and wait; below 0.3, drop it.
// Every decision is recorded by the caller as a planning event regardless
// of outcome, including overridden ones — Evaluate only decides whether
// to *apply* it.
func (b *replanBudgetState) Evaluate(d ReplanDecision) replanOutcome {
	if !d.ReplanNeeded {
		return replanDrop
	}
	if d.Confidence < 0.3 {
		return replanDrop
	}
	if d.Confidence < 0.5 {
		return replanClarify
	}
	if !b.withinBudget(d.ReplanType) {
		return replanDrop
	}
	return replanApply
}

func (b *replanBudgetState) withinBudget(t ReplanType) bool {
	if b.global >= effective(b.budgets.Global, 10) {
		return false
	}
	switch t {
	case ReplanClarificationRequest:
		return b.clarification < effective(b.budgets.Clarification, 2)
	case ReplanTaskRedecomposition:
		return b.redecomposition < effective(b.budgets.Redecomposition, 3)
	case ReplanActionRegeneration:
		return b.regeneration < effective(b.budgets.Regeneration, 3)
	case ReplanPartialReplan:
		return b.partial < effective(b.budgets.Partial, 2)
	case ReplanPlanRevision, ReplanGoalRevision, ReplanFullReplan:
		return b.revision < effective(b.budgets.Revision, 2)
	default:
		return true
	}
}

// RecordApplied increments the counters for an applied decision. Called
// only when Evaluate returned replanApply.
func (b *replanBudgetState) RecordApplied(t ReplanType) {
	b.global++
	switch t {
	case ReplanClarificationRequest:
		b.clarification++
	case ReplanTaskRedecomposition:
		b.redecomposition++
	case ReplanActionRegeneration:
		b.regeneration++
	case ReplanPartialReplan:
		b.partial++
	case ReplanPlanRevision, ReplanGoalRevision, ReplanFullReplan:
		b.revision++
	}
}

func effective(configured, fallback int) int {
	if configured <= 0 {
		return fallback
	}
	return configured
}
