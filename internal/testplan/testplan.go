// Package testplan maps features affected by a diff to a quick/full/missing
// test plan, honoring sandbox mode and each feature's TDD strictness.
package testplan

import (
	"os"
	"strings"

	"github.com/autodrive/core/internal/backlog"
)

// defaultFullCommand is part of the external contract: when no feature
// contributes an e2e command and the planner is not in sandbox mode, this
// command is appended to Full so a non-sandbox run always exercises
// something end to end.
const defaultFullCommand = "cargo test --all-features"

// sandboxEnvVar gates sandbox mode: its presence (any value) means the
// planner must not schedule e2e commands.
const sandboxEnvVar = "SANDBOX_NETWORK_DISABLED"

// Plan is three disjoint ordered lists of feature/test identifiers.
type Plan struct {
	Quick   []string
	Full    []string
	Missing []string
}

// TestCommandResult is the outcome of running a single test command.
type TestCommandResult struct {
	Command string
	Passed  bool
	Output  string
}

func sandboxMode() bool {
	_, ok := os.LookupEnv(sandboxEnvVar)
	return ok
}

// ParseGitDiffOutput splits newline-separated diff output into paths,
// ignoring blank lines.
func ParseGitDiffOutput(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		paths = append(paths, trimmed)
	}
	return paths
}

// GenerateQuickPlan builds a test plan from affected features using the
// current sandbox environment.
func GenerateQuickPlan(affected []backlog.Feature) Plan {
	return generateQuickPlanWithSandbox(affected, sandboxMode())
}

func generateQuickPlanWithSandbox(affected []backlog.Feature, sandbox bool) Plan {
	plan := Plan{}

	for _, feature := range affected {
		unit := feature.TestRequirements.Unit
		e2e := feature.TestRequirements.E2E

		strictWithoutUnit := feature.TDDMode == backlog.Strict && len(unit) == 0
		e2eOnly := len(unit) == 0 && len(e2e) > 0

		if strictWithoutUnit && ((e2eOnly && sandbox) || len(e2e) == 0) {
			plan.Missing = append(plan.Missing, feature.ID)
		}

		plan.Quick = append(plan.Quick, unit...)

		if !sandbox {
			plan.Full = append(plan.Full, e2e...)
		}
	}

	if len(plan.Full) == 0 && !sandbox {
		plan.Full = append(plan.Full, defaultFullCommand)
	}

	return plan
}

// PlanFromDiff resolves affected features from diffOutput against backlog
// and generates a quick plan.
func PlanFromDiff(bl *backlog.Manager, diffOutput string) Plan {
	paths := ParseGitDiffOutput(diffOutput)
	affected := bl.AffectedByDiff(paths)
	return GenerateQuickPlan(affected)
}

// VerificationResultForFeature synthesizes a VerificationResult from a test
// plan and the commands actually executed, honoring the Strict-TDD guard.
func VerificationResultForFeature(feature backlog.Feature, plan Plan, executed []TestCommandResult, summary string) backlog.VerificationResult {
	return verificationResultForFeatureWithEnv(feature, plan, executed, summary, sandboxMode())
}

func verificationResultForFeatureWithEnv(feature backlog.Feature, plan Plan, executed []TestCommandResult, summary string, sandbox bool) backlog.VerificationResult {
	missingDueToPlan := contains(plan.Missing, feature.ID)
	unit := feature.TestRequirements.Unit
	e2e := feature.TestRequirements.E2E
	e2eOnly := len(unit) == 0 && len(e2e) > 0
	strictWithNoRunnableTests := feature.TDDMode == backlog.Strict &&
		len(unit) == 0 && (len(e2e) == 0 || (sandbox && e2eOnly))

	testsRun := make([]string, 0, len(executed))
	var failures []string
	for _, r := range executed {
		testsRun = append(testsRun, r.Command)
		if !r.Passed {
			failures = append(failures, r.Command)
		}
	}

	verified := len(failures) == 0
	var reason string
	hasReason := false

	switch {
	case missingDueToPlan || strictWithNoRunnableTests || (feature.TDDMode == backlog.Strict && len(testsRun) == 0):
		verified = false
		reason = "missing tests"
		hasReason = true
	case len(failures) > 0:
		verified = false
		reason = "failed: " + strings.Join(failures, ",")
		hasReason = true
	}

	result := backlog.NewVerificationResult(verified, testsRun, summary)
	if hasReason {
		result = result.WithReason(reason)
	}
	return result
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
