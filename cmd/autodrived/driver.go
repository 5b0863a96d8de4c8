package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/autodrive/core/internal/agentcli"
	"github.com/autodrive/core/internal/archive"
	"github.com/autodrive/core/internal/backlog"
	"github.com/autodrive/core/internal/clusterbus"
	"github.com/autodrive/core/internal/git"
	"github.com/autodrive/core/internal/pipeline"
	"github.com/autodrive/core/internal/progresslog"
	"github.com/autodrive/core/internal/quotes"
	"github.com/autodrive/core/internal/rolehub"
	"github.com/autodrive/core/internal/sessionpool"
	"github.com/autodrive/core/internal/statusserver"
	"github.com/autodrive/core/internal/testplan"
	"github.com/autodrive/core/internal/topology"
)

// driver wires the pipeline, role hub, and session pool into one flow: a
// dependency-ordered batch of goals becomes pipeline tasks whose stage
// sub-tasks are dispatched to the pool and, once every role reports back,
// advanced or failed.
type driver struct {
	pipeline *pipeline.Pipeline
	hub      *rolehub.Hub
	pool     *sessionpool.Pool
	progress *progresslog.Logger
	backlog  *backlog.Manager
	registry *agentcli.Registry
	archive  *archive.Store
	bus      *clusterbus.Bus
	status   *statusserver.Server
	repo     *git.Git // nil when AUTODRIVE_REPO_PATH is unset

	mu             sync.Mutex
	layers         [][]topology.Task
	layerIdx       int
	pendingInLayer int
	branched       map[string]bool
}

// seed layers goals by declared dependency and starts the first wave.
// Later waves start only once every task in the prior wave reaches a
// terminal stage.
func (d *driver) seed(ctx context.Context, goals []topology.Task) error {
	layered, err := topology.Sort(goals)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.layers = layered.Layers
	d.layerIdx = 0
	d.mu.Unlock()

	if len(d.layers) == 0 {
		return nil
	}
	fmt.Printf("  Seeded %d goals across %d dependency waves (max parallelism %d)\n",
		layered.TotalTasks, layered.Depth(), layered.MaxParallelism())
	d.startLayer(ctx, 0)
	return nil
}

func (d *driver) startLayer(ctx context.Context, idx int) {
	d.mu.Lock()
	if idx >= len(d.layers) {
		d.mu.Unlock()
		return
	}
	layer := d.layers[idx]
	d.pendingInLayer = len(layer)
	d.mu.Unlock()

	for _, goal := range layer {
		task := pipeline.NewTask(goal.ID, goal.Payload)
		d.pipeline.Add(task)
		d.pipeline.Advance(goal.ID)
		d.dispatchStage(ctx, goal.ID)
	}
}

// dispatchStage submits one session-pool task per role active in the
// task's current stage.
func (d *driver) dispatchStage(ctx context.Context, taskID string) {
	task := d.pipeline.Get(taskID)
	if task == nil {
		return
	}
	stageTasks, err := d.pipeline.GetStageTasks(taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatch %s: %v\n", taskID, err)
		return
	}
	roles := pipeline.ActiveRoles(task.Stage)
	for i, agentTask := range stageTasks {
		if i >= len(roles) {
			break
		}
		role := roles[i]
		d.hub.Broadcast(ctx, rolehub.AssignTask(role, taskID, agentTask.Prompt))
		d.executeAgentTask(ctx, taskID, role, agentTask)
	}
}

// executeAgentTask submits agentTask to the pool and, once a session is
// assigned, runs the configured agent CLI (or a stub when none is
// registered) and reports the outcome back to both the pool and the
// pipeline.
func (d *driver) executeAgentTask(ctx context.Context, taskID, role string, agentTask pipeline.AgentTask) {
	spID := fmt.Sprintf("%s::%s", taskID, role)
	spTask := sessionpool.NewTask(spID, agentTask.Prompt)
	if agentTask.WriteAccess {
		spTask = spTask.WithPriority(3)
		d.ensureTaskBranch(taskID)
	}

	if err := d.pool.Submit(ctx, spTask); err != nil {
		fmt.Fprintf(os.Stderr, "pool rejected %s: %v\n", spID, err)
		d.completeRole(ctx, taskID, role, "pool rejected task: "+err.Error(), false)
		return
	}

	go func() {
		var sessionID string
		for i := 0; i < 50; i++ {
			if sessionID = d.pool.SessionForTask(spID); sessionID != "" {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if sessionID == "" {
			d.completeRole(ctx, taskID, role, "no session assigned before timeout", false)
			return
		}

		content, success, dur := d.runRole(ctx, role, agentTask)

		_ = d.pool.CompleteSession(ctx, sessionID, sessionpool.Result{
			TaskID:    spID,
			SessionID: sessionID,
			Success:   success,
			Content:   content,
			Duration:  dur,
		})
		d.completeRole(ctx, taskID, role, content, success)
	}()
}

// ensureTaskBranch creates the task's dedicated working branch the first
// time a write-access role runs against it. Best-effort: a repo-level
// failure (detached HEAD, dirty tree) only gets logged, since the agent CLI
// itself is what actually needs a clean checkout to do useful work.
func (d *driver) ensureTaskBranch(taskID string) {
	if d.repo == nil {
		return
	}
	d.mu.Lock()
	if d.branched[taskID] {
		d.mu.Unlock()
		return
	}
	d.branched[taskID] = true
	d.mu.Unlock()

	task := d.pipeline.Get(taskID)
	title := taskID
	if task != nil {
		title = task.Description
	}
	branch := git.BranchName(taskID, title)
	if err := d.repo.CreateBranch(branch); err != nil {
		fmt.Fprintf(os.Stderr, "branch %s: %v\n", branch, err)
	}
}

// runRole executes the role's work: the registered agent CLI when one is
// configured, or a deterministic stub that always succeeds otherwise.
func (d *driver) runRole(ctx context.Context, role string, agentTask pipeline.AgentTask) (string, bool, time.Duration) {
	if d.registry == nil {
		return fmt.Sprintf("%s: no agent configured, accepted by default", role), true, 0
	}

	cmd, err := d.registry.ResolveCommand("default", agentTask.WriteAccess, agentTask.Prompt)
	if err != nil {
		return fmt.Sprintf("%s: %v", role, err), false, 0
	}
	return runAgentCommand(ctx, cmd)
}

func (d *driver) completeRole(ctx context.Context, taskID, role, output string, success bool) {
	fromStage := "Unknown"
	if task := d.pipeline.Get(taskID); task != nil {
		fromStage = task.Stage.String()
	}

	action, err := d.pipeline.HandleRoleComplete(taskID, role, output, success)
	if err != nil {
		fmt.Fprintf(os.Stderr, "complete %s/%s: %v\n", taskID, role, err)
		return
	}

	switch action.Kind {
	case pipeline.ActionAdvance:
		d.hub.Broadcast(ctx, rolehub.AdvanceStageMsg(taskID, fromStage, action.NewStage.String()))
		if d.bus != nil {
			_ = d.bus.PublishStageTransition(taskID, action.NewStage.String())
		}
		if action.NewStage.IsTerminal() {
			d.onTerminal(taskID)
		} else {
			d.dispatchStage(ctx, taskID)
		}
	case pipeline.ActionFail:
		if d.bus != nil {
			_ = d.bus.PublishStageTransition(taskID, "Failed")
		}
		d.onTerminal(taskID)
	case pipeline.ActionWait:
	}
}

func (d *driver) onTerminal(taskID string) {
	task := d.pipeline.Get(taskID)
	if task == nil {
		return
	}

	status := task.Stage.String()
	_ = d.progress.Append(progresslog.Entry{
		Kind:    progresslog.Step,
		Status:  status,
		Summary: task.Description,
	})

	if d.repo != nil && task.Stage == pipeline.Completed {
		d.logVerificationPlan(task)
	}

	if d.archive != nil {
		roleSummary := make(map[string]string)
		for _, byRole := range task.RoleResults {
			for role, res := range byRole {
				roleSummary[role] = res.Output
			}
		}
		err := d.archive.Insert(archive.Record{
			TaskID:      task.ID,
			Description: task.Description,
			FinalStage:  status,
			Success:     task.Stage == pipeline.Completed,
			TotalTokens: task.TotalTokens(),
			DurationMs:  task.TotalDurationMs(),
			RoleSummary: roleSummary,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "archive %s: %v\n", taskID, err)
		}
	}

	d.layerDone()
}

// logVerificationPlan reads the staged diff left by the completed task's
// write-access roles and records the quick/full test plan it implies,
// against the features the diff touches.
func (d *driver) logVerificationPlan(task *pipeline.Task) {
	diff, err := d.repo.GetDiff()
	if err != nil || diff == "" {
		return
	}
	// The planner takes newline-separated paths; pull them from the
	// per-file "diff --git a/<old> b/<new>" headers of the patch.
	var paths []string
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "diff --git a/") {
			continue
		}
		if i := strings.LastIndex(line, " b/"); i >= 0 {
			paths = append(paths, line[i+len(" b/"):])
		}
	}
	plan := testplan.PlanFromDiff(d.backlog, strings.Join(paths, "\n"))
	_ = d.progress.Append(progresslog.Entry{
		Kind:    progresslog.Verify,
		Status:  task.Stage.String(),
		Tests:   fmt.Sprintf("quick=%v full=%v", plan.Quick, plan.Full),
		Summary: task.Description,
		Note:    fmt.Sprintf("missing=%v", plan.Missing),
	})
}

func (d *driver) layerDone() {
	d.mu.Lock()
	d.pendingInLayer--
	done := d.pendingInLayer <= 0
	next := d.layerIdx + 1
	if done {
		d.layerIdx = next
	}
	d.mu.Unlock()

	if done && next < len(d.layers) {
		d.startLayer(context.Background(), next)
	}
}

// runResultLoop drains the pool's result channel so backpressure accounting
// never stalls on an unconsumed buffer, forwarding each result's token
// count to the cluster bus for fleet-wide observability.
func (d *driver) runResultLoop(ctx context.Context) {
	for {
		result, ok := d.pool.NextResult(ctx)
		if !ok {
			return
		}
		if d.bus != nil {
			_ = d.bus.PublishMetrics(result.SessionID, map[string]interface{}{
				"task_id":     result.TaskID,
				"success":     result.Success,
				"tokens_used": result.TokensUsed,
			})
		}
	}
}

// runMaintenanceLoop periodically rebalances pool capacity and migrates
// stuck sessions.
func (d *driver) runMaintenanceLoop(ctx context.Context) {
	const ticksPerHour = 120
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var ticks int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ticks++
			if ticks%ticksPerHour == 0 {
				fmt.Println("  " + quotes.HourlyQuote())
			}
			d.pool.AutoScale()
			for _, migration := range d.pool.MigrateStuck(ctx) {
				fmt.Printf("  Migrated task %s from %s to %s (retry %d)\n",
					migration.TaskID, migration.FromSession, migration.ToSession, migration.RetryCount)
			}
			report := d.pool.HealthCheck(ctx)
			if d.bus != nil {
				_ = d.bus.PublishHealthReport("core", report)
			}
		}
	}
}
