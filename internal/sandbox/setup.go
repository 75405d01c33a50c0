package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/retry"
)

// maxRepairRounds bounds the total LLM-repair rounds across both the
// setup-command loop and the verification loop (spec.md §4.5 step 2/3).
const maxRepairRounds = 3

// failureClass classifies why a setup/verification command failed, to
// decide whether a bare retry, an LLM-repair round, or an abort is
// appropriate.
type failureClass int

const (
	classTransient failureClass = iota
	classRepairable
	classFatal
)

// errAbortSetup signals a fatal (docker/system) failure: the setup
// sub-phase stops immediately and the task proceeds to execution with
// EnvironmentReady=false, per spec.md §4.5 step 2.
var errAbortSetup = errors.New("sandbox: environment setup aborted on fatal failure")

// Repairer asks an LLM for a corrected command list after a repairable
// setup or verification failure. Implemented by the planning coordinator,
// which owns the task's LLM conversation; this package only classifies
// and orchestrates the retry/repair loop.
type Repairer interface {
	RepairCommands(ctx context.Context, setupCommands []string, failedIndex int, result ExecResult) ([]string, error)
}

// VerificationCheck is one selected_environment.verification[] entry.
type VerificationCheck struct {
	Command        string
	ExpectedOutput string
}

// SetupResult reports the outcome of the environment-setup sub-phase.
type SetupResult struct {
	EnvironmentReady bool
	RepairRounds     int
}

var transientMarkers = []string{
	"connection refused", "connection reset", "timed out", "timeout",
	"temporary failure in name resolution", "could not resolve host",
	"resource temporarily unavailable", "lock", "try again",
}

var repairableMarkers = []string{
	"no matching distribution", "could not find a version",
	"package not found", "404 not found", "npm err! code e404",
	"unable to locate package", "no such file or directory",
}

func classifyFailure(result ExecResult) failureClass {
	combined := strings.ToLower(result.Stdout + "\n" + result.Stderr)
	for _, m := range transientMarkers {
		if strings.Contains(combined, m) {
			return classTransient
		}
	}
	for _, m := range repairableMarkers {
		if strings.Contains(combined, m) {
			return classRepairable
		}
	}
	return classFatal
}

// RunSetup executes setupCommands in order via execute_command, retrying
// transient failures with backoff (5/10/20s, up to 3 retries), asking
// repairer for a corrected command list on repairable failures (bounded
// by maxRepairRounds total across setup and verification), and stopping
// immediately with EnvironmentReady=false on a fatal failure. On success
// it runs verification and returns its outcome.
func (m *Manager) RunSetup(ctx context.Context, taskUUID string, setupCommands []string, verification []VerificationCheck, repairer Repairer) (*SetupResult, error) {
	result := &SetupResult{}
	commands := append([]string(nil), setupCommands...)

	for i := 0; i < len(commands); i++ {
		switch err := m.runSetupCommand(ctx, taskUUID, &commands, &i, result, repairer); {
		case errors.Is(err, errAbortSetup):
			result.EnvironmentReady = false
			return result, nil
		case err != nil:
			return result, err
		}
	}

	if err := m.runVerification(ctx, taskUUID, verification, &commands, result, repairer); err != nil {
		return result, err
	}
	return result, nil
}

// runSetupCommand runs commands[*i], retrying transient failures and
// repairing repairable ones. On repair, *commands is replaced and *i is
// rewound so the corrected list re-runs from the failed step.
func (m *Manager) runSetupCommand(ctx context.Context, taskUUID string, commands *[]string, i *int, result *SetupResult, repairer Repairer) error {
	cmd := (*commands)[*i]

	cfg := retry.Config{MaxAttempts: 4, BackoffMin: 5 * time.Second, BackoffMax: 5 * time.Second}
	var last ExecResult

	err := retry.Do(ctx, cfg, func(error) bool {
		return classifyFailure(last) == classTransient
	}, func(ctx context.Context, attempt int) error {
		r, err := m.ExecuteCommand(ctx, taskUUID, cmd, "")
		if err != nil {
			return err
		}
		last = *r
		if r.ExitCode == 0 {
			return nil
		}
		return fmt.Errorf("setup command %q exited %d", cmd, r.ExitCode)
	})
	if err == nil {
		return nil
	}

	switch classifyFailure(last) {
	case classRepairable:
		if result.RepairRounds >= maxRepairRounds {
			return errAbortSetup
		}
		result.RepairRounds++
		fixed, rerr := repairer.RepairCommands(ctx, *commands, *i, last)
		if rerr != nil {
			return fmt.Errorf("LLM repair failed for command %q: %w", cmd, rerr)
		}
		*commands = fixed
		*i--
		return nil
	default:
		m.logger.Warn("environment setup hit a fatal or exhausted-retry failure, aborting", "task", taskUUID, "command", cmd)
		return errAbortSetup
	}
}

func (m *Manager) runVerification(ctx context.Context, taskUUID string, checks []VerificationCheck, commands *[]string, result *SetupResult, repairer Repairer) error {
	result.EnvironmentReady = true
	for _, check := range checks {
		r, err := m.ExecuteCommand(ctx, taskUUID, check.Command, "")
		if err != nil {
			return err
		}
		actual := strings.TrimRight(r.Stdout, "\n")
		expected := strings.TrimRight(check.ExpectedOutput, "\n")
		if r.ExitCode == 0 && actual == expected {
			continue
		}

		if result.RepairRounds >= maxRepairRounds {
			result.EnvironmentReady = false
			return nil
		}
		result.RepairRounds++
		fixed, err := repairer.RepairCommands(ctx, *commands, len(*commands), *r)
		if err != nil {
			return fmt.Errorf("LLM repair failed for verification %q: %w", check.Command, err)
		}
		*commands = fixed
		for _, cmd := range fixed {
			if _, err := m.ExecuteCommand(ctx, taskUUID, cmd, ""); err != nil {
				return err
			}
		}
	}
	return nil
}
