package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/contextstore"
	"github.com/codeready-toolchain/agentrunner/internal/sandbox"
)

// runPrePlanning implements Phase I: an optional grounding round where the
// LLM names read-only tool calls to execute before planning proper.
func (c *Coordinator) runPrePlanning(ctx context.Context) error {
	understanding, _, err := ParseWithRetry[Understanding](
		"Before planning, describe your understanding of the task and list any files you need to read for grounding (JSON: {understanding, files_to_fetch:[{tool,args}]}). If nothing needs fetching, return an empty files_to_fetch list.",
		c.ask)
	if err != nil {
		return err
	}

	for _, call := range understanding.FilesToFetch {
		result, toolErr := c.dispatchReadOnly(ctx, call)
		status := contextstore.ToolSuccess
		errMsg := ""
		if toolErr != nil {
			status = contextstore.ToolError
			errMsg = toolErr.Error()
		}
		if _, err := c.store.AppendTool(call.Tool, call.Args, result, status, errMsg, 0); err != nil {
			return fmt.Errorf("record pre-planning fetch: %w", err)
		}
		if _, err := c.store.AppendMessage(contextstore.RoleTool, result, call.Tool); err != nil {
			return fmt.Errorf("append fetch result: %w", err)
		}
	}

	c.phase = PhasePlanning
	return nil
}

// dispatchReadOnly executes a grounding fetch during pre-planning. Only
// read-only surfaces (text-editor view, execute_command) are permitted;
// the manager doesn't distinguish, so this is advisory discipline
// documented here rather than enforced by a separate code path.
func (c *Coordinator) dispatchReadOnly(ctx context.Context, call FetchCall) (string, error) {
	return c.dispatchTool(ctx, call.Tool, call.Args)
}

// runPlanning implements Phase II: the LLM returns a full Plan, persisted
// and posted as the initial checklist.
func (c *Coordinator) runPlanning(ctx context.Context) error {
	plan, _, err := ParseWithRetry[Plan](planningPromptTail, c.ask)
	if err != nil {
		return err
	}
	c.plan = plan

	if err := c.store.AppendPlanning(contextstore.PlanningPlan, plan); err != nil {
		return fmt.Errorf("persist plan: %w", err)
	}

	c.comment.Checklist = nil
	for _, sub := range plan.TaskDecomposition.Subtasks {
		c.comment.addAction(sub.ID, sub.Description, "")
	}
	c.comment.addHistory("Plan created", plan.GoalUnderstanding.MainObjective)

	c.phase = PhaseEnvSetup
	return nil
}

const planningPromptTail = "Produce a full plan as JSON matching: " +
	"{goal_understanding{main_objective,success_criteria[],constraints[]}," +
	"task_decomposition{reasoning,subtasks[{id,description,dependencies[],estimated_complexity,required_tools[]}]}," +
	"action_plan{execution_order[],actions[{task_id,action_type,tool,purpose,expected_outcome,fallback_strategy?}]}," +
	"selected_environment{name,reason,setup_commands[],verification[{command,expected_output}]}}."

// llmRepairer adapts the coordinator's LLM conversation to
// sandbox.Repairer, used by runEnvSetup to drive RunSetup's repair rounds.
type llmRepairer struct {
	c *Coordinator
}

func (r *llmRepairer) RepairCommands(ctx context.Context, setupCommands []string, failedIndex int, result sandbox.ExecResult) ([]string, error) {
	payload, _ := json.Marshal(setupCommands)
	prompt := fmt.Sprintf(
		"Setup command at index %d failed (exit %d).\nstdout:\n%s\nstderr:\n%s\n\n"+
			"Current setup_commands: %s\n\nReturn a corrected JSON object: {\"setup_commands\":[...]} "+
			"with a fixed command list, keeping already-successful commands unless they must change.",
		failedIndex, result.ExitCode, result.Stdout, result.Stderr, payload)

	type repairResponse struct {
		SetupCommands []string `json:"setup_commands"`
	}
	resp, _, err := ParseWithRetry[repairResponse](prompt, r.c.ask)
	if err != nil {
		return nil, err
	}
	return resp.SetupCommands, nil
}

// runEnvSetup implements Phase III: spec.md §4.5's setup sub-phase, driven
// through internal/sandbox.RunSetup.
func (c *Coordinator) runEnvSetup(ctx context.Context) error {
	envName := c.plan.SelectedEnvironment.Name

	if _, err := c.sandbox.Prepare(ctx, sandbox.PrepareRequest{
		TaskUUID:     c.task.UUID,
		EnvName:      envName,
		RepoCloneURL: c.task.RepoCloneURL,
		Branch:       c.task.Branch,
	}); err != nil {
		c.environmentReady = false
		c.logger.Warn("environment prepare failed", "error", err)
	} else {
		checks := make([]sandbox.VerificationCheck, 0, len(c.plan.SelectedEnvironment.Verification))
		for _, v := range c.plan.SelectedEnvironment.Verification {
			checks = append(checks, sandbox.VerificationCheck{Command: v.Command, ExpectedOutput: v.ExpectedOutput})
		}

		result, err := c.sandbox.RunSetup(ctx, c.task.UUID, c.plan.SelectedEnvironment.SetupCommands, checks, &llmRepairer{c: c})
		if err != nil {
			return fmt.Errorf("environment setup: %w", err)
		}
		c.environmentReady = result.EnvironmentReady
	}

	c.comment.addHistory("Environment setup", fmt.Sprintf("ready=%t", c.environmentReady))
	c.phase = PhaseExecution
	return nil
}

// runExecution implements Phase IV: iterate the plan's execution_order,
// dispatching one LLM-chosen function call per action, checking the
// suspension signals at each boundary.
func (c *Coordinator) runExecution(ctx context.Context) error {
	actionsByTaskID := make(map[string]Action, len(c.plan.ActionPlan.Actions))
	for _, a := range c.plan.ActionPlan.Actions {
		actionsByTaskID[a.TaskID] = a
	}

	for c.actionsDone < len(c.plan.ActionPlan.ExecutionOrder) {
		if suspend := c.checkSuspension(ctx); suspend != "" {
			return nil // Run's main loop re-checks and suspends
		}

		taskID := c.plan.ActionPlan.ExecutionOrder[c.actionsDone]
		action := actionsByTaskID[taskID]

		call, err := c.resolveActionCall(ctx, action)
		if err != nil {
			return err
		}
		if call.Comment != "" {
			c.comment.LatestComment = call.Comment
			c.flushComment(ctx)
		}
		if call.Done {
			c.comment.setCheckbox(taskID, true)
			c.actionsDone++
			continue
		}

		start := time.Now()
		resultText, toolErr := c.dispatchTool(ctx, call.Tool, call.Args)
		duration := time.Since(start)

		status := contextstore.ToolSuccess
		errMsg := ""
		if toolErr != nil {
			status = contextstore.ToolError
			errMsg = toolErr.Error()
		}
		masked := resultText
		if c.masker != nil {
			masked = c.masker.Mask(resultText)
		}

		if _, err := c.store.AppendTool(call.Tool, call.Args, masked, status, errMsg, duration); err != nil {
			return fmt.Errorf("record tool call: %w", err)
		}
		if _, err := c.store.AppendMessage(contextstore.RoleTool, masked, call.Tool); err != nil {
			return fmt.Errorf("append tool result: %w", err)
		}

		c.comment.setCheckbox(taskID, toolErr == nil)
		c.actionsDone++
		c.actionsSince++

		triggerInterval := c.cfg.Reflection.TriggerInterval
		if triggerInterval <= 0 {
			triggerInterval = 5
		}
		if (toolErr != nil && c.cfg.Reflection.TriggerOnError) || c.actionsSince >= triggerInterval {
			c.actionsSince = 0
			c.phase = PhaseReflection
			return nil
		}
	}

	c.phase = PhaseVerification
	return nil
}

func executionPromptTail(action Action) string {
	return fmt.Sprintf(
		"Current action: %s (tool=%s, purpose=%s, expected_outcome=%s). "+
			"Call the function that performs this action, optionally preceded by a short progress comment. "+
			"If the action is already satisfied, don't call a function: reply with JSON {\"done\":true} instead.",
		action.TaskID, action.Tool, action.Purpose, action.ExpectedOutcome)
}

// resolveActionCall asks the model for its next execution-phase move,
// offering the environment manager's tools as real function-calling
// definitions (spec.md §4.5/§4.6) rather than asking for free-text JSON.
// A response that names a tool call wins outright; a response with no tool
// call is expected to be the {"done":true} sentinel (or a comment-only
// JSON object), parsed with the same self-correction retry loop
// ParseWithRetry uses for every other phase.
func (c *Coordinator) resolveActionCall(ctx context.Context, action Action) (ActionCall, error) {
	tail := executionPromptTail(action)
	tools := c.sandbox.ToolDefinitions(ctx, c.task.UUID)

	var lastErr error
	for attempt := 0; attempt < maxParseRetries; attempt++ {
		resp, err := c.askWithTools(tail, tools)
		if err != nil {
			return ActionCall{}, fmt.Errorf("planning: LLM call failed: %w", err)
		}

		if len(resp.ToolCalls) > 0 {
			tc := resp.ToolCalls[0]
			return ActionCall{Tool: tc.Name, Args: tc.Args, Comment: strings.TrimSpace(resp.Content)}, nil
		}

		candidate := extractJSON(resp.Content)
		var call ActionCall
		if decErr := json.Unmarshal([]byte(candidate), &call); decErr == nil {
			return call, nil
		} else {
			lastErr = decErr
			tail = executionPromptTail(action) + "\n\n" + formatCorrectionFeedback(decErr, resp.Content)
		}
	}

	if lastErr != nil {
		return ActionCall{}, fmt.Errorf("%w: %v", ErrParseExhausted, lastErr)
	}
	return ActionCall{}, ErrParseExhausted
}

// dispatchTool routes a function call to the environment manager's
// command-executor or text-editor surface, or, for any name outside that
// pair, to the task's connected MCP servers (spec.md §4.5's "MCP stdio
// tool call" suspension point).
func (c *Coordinator) dispatchTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	switch tool {
	case "execute_command":
		cmd, _ := args["command"].(string)
		workDir, _ := args["working_dir"].(string)
		result, err := c.sandbox.ExecuteCommand(ctx, c.task.UUID, cmd, workDir)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("exit_code=%d\nstdout:\n%s\nstderr:\n%s", result.ExitCode, result.Stdout, result.Stderr), nil

	case "text_editor":
		req, err := toTextEditorRequest(args)
		if err != nil {
			return "", err
		}
		resp, err := c.sandbox.CallTextEditorTool(ctx, c.task.UUID, req)
		if err != nil && resp == nil {
			return "", err
		}
		if err != nil {
			return resp.Error, err
		}
		return resp.Output, nil

	default:
		return c.sandbox.CallMCPTool(ctx, c.task.UUID, tool, args)
	}
}

func toTextEditorRequest(args map[string]any) (sandbox.TextEditorRequest, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return sandbox.TextEditorRequest{}, err
	}
	var req sandbox.TextEditorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return sandbox.TextEditorRequest{}, err
	}
	return req, nil
}

// runReflection implements Phase V: triggered on an action error or every
// reflection_interval actions.
func (c *Coordinator) runReflection(ctx context.Context) error {
	reflection, _, err := ParseWithRetry[ReflectionResult](
		"Reflect on the latest action result. Respond with JSON "+
			"{status, evaluation, issues_identified[], plan_revision_needed, plan_revision?}.",
		c.ask)
	if err != nil {
		return err
	}

	if err := c.store.AppendPlanning(contextstore.PlanningReflection, reflection); err != nil {
		return fmt.Errorf("persist reflection: %w", err)
	}
	c.comment.addHistory("Reflection", reflection.Evaluation)

	if reflection.PlanRevisionNeeded {
		// Reflection's plan-revision request is routed through the same
		// replan-decision budget machinery as any other re-plan class
		// (spec.md §4.6: "every replan decision is recorded ... including
		// overrides, preserving a full audit trail"), rather than a
		// separate ad hoc counter.
		decision := ReplanDecision{
			ReplanNeeded: true,
			Confidence:   1.0,
			Reasoning:    reflection.Evaluation,
			ReplanType:   ReplanPlanRevision,
			TargetPhase:  PhaseExecution,
		}
		if err := c.store.AppendPlanning(contextstore.PlanningReplanDecision, decision); err != nil {
			return fmt.Errorf("persist replan decision: %w", err)
		}

		switch c.replanBudgets.Evaluate(decision) {
		case replanApply:
			c.replanBudgets.RecordApplied(decision.ReplanType)
			if reflection.PlanRevision != nil {
				c.revisionCount++
				c.plan = reflection.PlanRevision
				if err := c.store.AppendPlanning(contextstore.PlanningRevision, c.plan); err != nil {
					return fmt.Errorf("persist revision: %w", err)
				}
				c.actionsDone = 0
			}
		case replanClarify:
			c.comment.addHistory("Clarification needed", decision.Reasoning)
			if c.trk != nil {
				_, _ = c.trk.Comment(ctx, "Reflection's confidence in a plan revision was borderline; pausing for human clarification: "+decision.Reasoning)
			}
			return fmt.Errorf("plan revision needs clarification (confidence %.2f)", decision.Confidence)
		case replanDrop:
			if decision.Confidence >= 0.5 {
				c.comment.addHistory("Human intervention needed", "plan-revision budget exhausted")
				if c.trk != nil {
					_, _ = c.trk.Comment(ctx, "Reflection requested another plan revision, but the revision budget is exhausted. Human review needed.")
				}
				return fmt.Errorf("plan-revision budget exhausted after %d revisions", c.revisionCount)
			}
			c.comment.addHistory("Reflection recommendation dropped", "confidence below threshold, continuing without revision")
		}
	}

	c.phase = PhaseExecution
	return nil
}

// runVerification implements Phase VI: the LLM inspects repo state via
// read-only tools and may append additional_actions, bounded by
// max_verification_rounds.
func (c *Coordinator) runVerification(ctx context.Context) error {
	result, _, err := ParseWithRetry[VerificationResult](
		"Verify the task's completion state by inspecting the repository (read-only tools only). "+
			"Respond with JSON {verification_passed, issues_found[], placeholder_detected{count,locations[]}, "+
			"additional_work_needed, additional_actions[], completion_confidence}.",
		c.ask)
	if err != nil {
		return err
	}

	if err := c.store.AppendPlanning(contextstore.PlanningVerification, result); err != nil {
		return fmt.Errorf("persist verification: %w", err)
	}

	maxRounds := c.cfg.Verification.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 2
	}

	if result.AdditionalWorkNeeded && c.verifyRounds < maxRounds {
		c.verifyRounds++
		startIdx := len(c.plan.ActionPlan.Actions)
		for i, a := range result.AdditionalActions {
			id := fmt.Sprintf("additional_%d", startIdx+i)
			a.TaskID = id
			c.plan.ActionPlan.Actions = append(c.plan.ActionPlan.Actions, a)
			c.plan.ActionPlan.ExecutionOrder = append(c.plan.ActionPlan.ExecutionOrder, id)
			c.comment.addAction(id, a.Purpose, "Additional Work")
		}
		c.comment.addHistory("Additional work identified", fmt.Sprintf("%d issue(s) found", len(result.IssuesFound)))
		c.phase = PhaseExecution
		return nil
	}

	c.comment.addHistory("Verification complete", fmt.Sprintf("passed=%t confidence=%.2f", result.VerificationPassed, result.CompletionConfidence))
	c.phase = PhaseComplete
	return nil
}
