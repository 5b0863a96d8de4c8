package testplan

import (
	"testing"

	"github.com/autodrive/core/internal/backlog"
)

func TestParseGitDiffOutput(t *testing.T) {
	paths := ParseGitDiffOutput("internal/sessionpool/pool.go\n\nREADME.md\n")
	if len(paths) != 2 || paths[0] != "internal/sessionpool/pool.go" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestStrictModeMarksMissingTests(t *testing.T) {
	feature := backlog.Feature{ID: "F-1", Description: "demo", TDDMode: backlog.Strict}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, false)
	if len(plan.Missing) != 1 || plan.Missing[0] != "F-1" {
		t.Fatalf("expected F-1 missing, got %v", plan.Missing)
	}
}

func TestGeneratesQuickAndFullCommands(t *testing.T) {
	feature := backlog.Feature{
		ID: "F-2", Description: "demo",
		TestRequirements: backlog.TestRequirements{
			Unit: []string{"go test ./core/..."},
			E2E:  []string{"cargo test --all-features"},
		},
	}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, false)
	if len(plan.Quick) == 0 || len(plan.Full) == 0 {
		t.Fatalf("expected both quick and full populated: %+v", plan)
	}
}

// TestSandboxSkipsE2EAndMarksMissing is scenario S5.
func TestSandboxSkipsE2EAndMarksMissing(t *testing.T) {
	feature := backlog.Feature{
		ID: "F-3", Description: "needs e2e", TDDMode: backlog.Strict,
		TestRequirements: backlog.TestRequirements{E2E: []string{"cargo test --package ui-e2e"}},
	}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, true)
	if len(plan.Quick) != 0 || len(plan.Full) != 0 {
		t.Fatalf("expected empty quick/full in sandbox, got %+v", plan)
	}
	if len(plan.Missing) != 1 || plan.Missing[0] != "F-3" {
		t.Fatalf("expected F-3 missing, got %v", plan.Missing)
	}

	result := verificationResultForFeatureWithEnv(feature, plan, nil, "no tests", true)
	if result.Verified {
		t.Fatal("expected verified=false")
	}
	if result.Reason == nil || *result.Reason != "missing tests" {
		t.Fatalf("expected reason 'missing tests', got %v", result.Reason)
	}
}

func TestSandboxDoesNotAddDefaultFullPlan(t *testing.T) {
	feature := backlog.Feature{
		ID: "F-7", Description: "no e2e",
		TestRequirements: backlog.TestRequirements{Unit: []string{"go test ./..."}},
	}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, true)
	if len(plan.Full) != 0 {
		t.Fatalf("expected no default full command in sandbox, got %v", plan.Full)
	}
}

func TestNonSandboxAddsDefaultFullPlan(t *testing.T) {
	feature := backlog.Feature{
		ID: "F-8", Description: "no e2e",
		TestRequirements: backlog.TestRequirements{Unit: []string{"go test ./..."}},
	}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, false)
	if len(plan.Full) != 1 || plan.Full[0] != defaultFullCommand {
		t.Fatalf("expected default full command, got %v", plan.Full)
	}
}

func TestStrictModeWithoutRunsFailsVerification(t *testing.T) {
	feature := backlog.Feature{
		ID: "F-4", Description: "strict feature", TDDMode: backlog.Strict,
		TestRequirements: backlog.TestRequirements{Unit: []string{"go test ./..."}},
	}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, false)
	result := verificationResultForFeatureWithEnv(feature, plan, nil, "no tests", false)
	if result.Verified {
		t.Fatal("expected verified=false")
	}
	if result.Reason == nil || *result.Reason != "missing tests" {
		t.Fatalf("expected 'missing tests', got %v", result.Reason)
	}
}

func TestVerificationRecordsFailuresAndReason(t *testing.T) {
	feature := backlog.Feature{
		ID: "F-5", Description: "with tests",
		TestRequirements: backlog.TestRequirements{Unit: []string{"go test ./..."}},
	}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, false)
	executed := []TestCommandResult{
		{Command: "go test ./...", Passed: true},
		{Command: "go test ui", Passed: false, Output: "flaky"},
	}
	result := verificationResultForFeatureWithEnv(feature, plan, executed, "tests executed", false)
	if result.Verified {
		t.Fatal("expected verified=false")
	}
	if result.Reason == nil || *result.Reason != "failed: go test ui" {
		t.Fatalf("unexpected reason: %v", result.Reason)
	}
	if len(result.TestsRun) != 2 {
		t.Fatalf("expected 2 tests run, got %v", result.TestsRun)
	}
}

func TestVerificationSucceedsWhenAllPass(t *testing.T) {
	feature := backlog.Feature{
		ID: "F-6", Description: "passing",
		TestRequirements: backlog.TestRequirements{Unit: []string{"go test ./..."}},
	}
	plan := generateQuickPlanWithSandbox([]backlog.Feature{feature}, false)
	executed := []TestCommandResult{{Command: "go test ./...", Passed: true}}
	result := verificationResultForFeatureWithEnv(feature, plan, executed, "all good", false)
	if !result.Verified {
		t.Fatalf("expected verified, got %+v", result)
	}
	if result.Reason != nil {
		t.Fatalf("expected no reason, got %v", result.Reason)
	}
}

func TestPlanFromDiffUsesBacklog(t *testing.T) {
	bl := backlog.FromFeatures("", []backlog.Feature{
		{ID: "F-9", Module: "internal/sessionpool", TestRequirements: backlog.TestRequirements{Unit: []string{"go test ./internal/sessionpool/..."}}},
	})
	plan := PlanFromDiff(bl, "internal/sessionpool/pool.go\n")
	if len(plan.Quick) != 1 {
		t.Fatalf("expected one quick command, got %v", plan.Quick)
	}
}
