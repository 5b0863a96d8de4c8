// Package pipeline advances tasks through a fixed stage machine
// (Queued -> Planning -> Implementing -> Testing -> Reviewing -> Completed
// or Failed), fanning out to role-specific sub-tasks and gating stage
// transitions on role completion.
package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is one step of the pipeline state machine.
type Stage int

const (
	Queued Stage = iota
	Planning
	Implementing
	Testing
	Reviewing
	Completed
	Failed
)

func (s Stage) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Planning:
		return "Planning"
	case Implementing:
		return "Implementing"
	case Testing:
		return "Testing"
	case Reviewing:
		return "Reviewing"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Next returns the stage that follows s, or (s, false) from a terminal stage.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case Queued:
		return Planning, true
	case Planning:
		return Implementing, true
	case Implementing:
		return Testing, true
	case Testing:
		return Reviewing, true
	case Reviewing:
		return Completed, true
	default:
		return s, false
	}
}

// activeRoles is the compile-time mapping of stage to participating roles.
var activeRoles = map[Stage][]string{
	Queued:       {},
	Planning:     {"Coordinator", "Architect"},
	Implementing: {"Executor-1", "Executor-2", "Executor-3"},
	Testing:      {"Tester", "Debugger"},
	Reviewing:    {"Reviewer"},
	Completed:    {},
	Failed:       {},
}

// ActiveRoles returns the roles participating in stage s, in declaration order.
func ActiveRoles(s Stage) []string {
	return activeRoles[s]
}

// IsTerminal reports whether s is Completed or Failed.
func (s Stage) IsTerminal() bool {
	return s == Completed || s == Failed
}

// StageOutput is the synthesized result of one completed stage.
type StageOutput struct {
	Stage      Stage
	Content    string
	TokensUsed int64
	DurationMs int64
	Success    bool
	Error      string
}

// RoleResult is what a single role reported within a stage.
type RoleResult struct {
	Output  string
	Success bool
}

// AgentTask is the unit dispatched to a role for execution, one per active
// role in the current stage.
type AgentTask struct {
	ID            int64
	Prompt        string
	WriteAccess   bool
	DispatchOrder int
}

// TaskNotFoundError is returned when a task id is unknown to the pipeline.
type TaskNotFoundError struct{ TaskID string }

func (e *TaskNotFoundError) Error() string { return fmt.Sprintf("task %s not found", e.TaskID) }

// StageActionKind discriminates the result of handling a role's completion.
type StageActionKind int

const (
	ActionWait StageActionKind = iota
	ActionAdvance
	ActionFail
)

// StageAction is the result of HandleRoleComplete.
type StageAction struct {
	Kind     StageActionKind
	NewStage Stage
	Role     string
	Error    string
}

// Task is a single unit of work moving through the pipeline.
type Task struct {
	ID             string
	Description    string
	Stage          Stage
	StageOutputs   map[Stage]StageOutput
	RoleResults    map[Stage]map[string]RoleResult
	CreatedAt      time.Time
	StageChangedAt time.Time
	Retries        int64
}

// NewTask constructs a fresh Queued task.
func NewTask(id, description string) *Task {
	now := time.Now()
	return &Task{
		ID:             id,
		Description:    description,
		Stage:          Queued,
		StageOutputs:   make(map[Stage]StageOutput),
		RoleResults:    make(map[Stage]map[string]RoleResult),
		CreatedAt:      now,
		StageChangedAt: now,
	}
}

// Advance moves the task to the next stage, returning false from a terminal stage.
func (t *Task) Advance() bool {
	next, ok := t.Stage.Next()
	if !ok {
		return false
	}
	t.Stage = next
	t.StageChangedAt = time.Now()
	return true
}

// RecordOutput stores output for its own Stage field, overwriting any prior
// output recorded for that stage.
func (t *Task) RecordOutput(output StageOutput) {
	t.StageOutputs[output.Stage] = output
}

// Fail records a failing StageOutput for the current stage and jumps to Failed.
func (t *Task) Fail(errText string) {
	t.StageOutputs[t.Stage] = StageOutput{
		Stage:      t.Stage,
		DurationMs: elapsedMs(t.StageChangedAt),
		Success:    false,
		Error:      errText,
	}
	t.Stage = Failed
	t.StageChangedAt = time.Now()
}

// TotalTokens sums tokens used across every recorded stage output.
func (t *Task) TotalTokens() int64 {
	var total int64
	for _, o := range t.StageOutputs {
		total += o.TokensUsed
	}
	return total
}

// TotalDurationMs is the wall-clock time since the task was created.
func (t *Task) TotalDurationMs() int64 {
	return elapsedMs(t.CreatedAt)
}

// IsTerminal reports whether the task has reached Completed or Failed.
func (t *Task) IsTerminal() bool {
	return t.Stage.IsTerminal()
}

func elapsedMs(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}

// Pipeline tracks many tasks moving through the stage machine.
type Pipeline struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	stageCounts map[Stage]int64
	nextAgentID int64
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		tasks:       make(map[string]*Task),
		stageCounts: make(map[Stage]int64),
		nextAgentID: 1,
	}
}

// CreateFromGoal registers a fresh Queued task for description and returns its id.
func (p *Pipeline) CreateFromGoal(description string) string {
	id := uuid.NewString()
	task := NewTask(id, description)
	p.Add(task)
	return id
}

// Add registers task, counting it at its current stage.
func (p *Pipeline) Add(task *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stageCounts[task.Stage]++
	p.tasks[task.ID] = task
}

// Get returns the task with the given id, or nil.
func (p *Pipeline) Get(id string) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks[id]
}

// GetStageTasks emits one AgentTask per active role of the task's current
// stage, in declaration order. Queued/terminal stages yield no tasks.
func (p *Pipeline) GetStageTasks(id string) ([]AgentTask, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	task, ok := p.tasks[id]
	if !ok {
		return nil, &TaskNotFoundError{TaskID: id}
	}

	roles := activeRoles[task.Stage]
	result := make([]AgentTask, 0, len(roles))
	for idx, role := range roles {
		agentID := p.nextAgentID
		p.nextAgentID++
		result = append(result, AgentTask{
			ID:            agentID,
			Prompt:        fmt.Sprintf("[%s] %s", role, task.Description),
			WriteAccess:   strings.HasPrefix(role, "Executor"),
			DispatchOrder: idx,
		})
	}
	return result, nil
}

// HandleRoleComplete records a role's result for the task's current stage and
// returns the resulting StageAction: Wait, Advance, or Fail.
func (p *Pipeline) HandleRoleComplete(taskID, role, output string, success bool) (StageAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	task, ok := p.tasks[taskID]
	if !ok {
		return StageAction{}, &TaskNotFoundError{TaskID: taskID}
	}

	stage := task.Stage
	progress, ok := task.RoleResults[stage]
	if !ok {
		progress = make(map[string]RoleResult)
		task.RoleResults[stage] = progress
	}
	progress[role] = RoleResult{Output: output, Success: success}

	if !success {
		task.Fail(output)
		p.updateStageCounts(stage, task.Stage)
		return StageAction{Kind: ActionFail, Role: role, Error: output}, nil
	}

	required := activeRoles[stage]
	if len(required) == 0 || !allReportedSuccessfully(required, progress) {
		return StageAction{Kind: ActionWait}, nil
	}

	var lines []string
	for name, res := range progress {
		lines = append(lines, fmt.Sprintf("%s: %s", name, res.Output))
	}
	task.RecordOutput(StageOutput{
		Stage:      stage,
		Content:    strings.Join(lines, "\n"),
		DurationMs: elapsedMs(task.StageChangedAt),
		Success:    true,
	})

	if task.Advance() {
		p.updateStageCounts(stage, task.Stage)
		return StageAction{Kind: ActionAdvance, NewStage: task.Stage}, nil
	}
	return StageAction{Kind: ActionWait}, nil
}

func allReportedSuccessfully(required []string, progress map[string]RoleResult) bool {
	for _, role := range required {
		res, ok := progress[role]
		if !ok || !res.Success {
			return false
		}
	}
	return true
}

// Advance moves the task to its next stage directly, for tests and tools.
func (p *Pipeline) Advance(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	task, ok := p.tasks[id]
	if !ok {
		return false
	}
	old := task.Stage
	if !task.Advance() {
		return false
	}
	p.updateStageCounts(old, task.Stage)
	return true
}

// TasksAtStage returns every task currently at stage.
func (p *Pipeline) TasksAtStage(stage Stage) []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result []*Task
	for _, t := range p.tasks {
		if t.Stage == stage {
			result = append(result, t)
		}
	}
	return result
}

// StageCounts returns a snapshot of how many tasks sit at each stage.
func (p *Pipeline) StageCounts() map[Stage]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[Stage]int64, len(p.stageCounts))
	for k, v := range p.stageCounts {
		out[k] = v
	}
	return out
}

// DrainTerminal removes every Completed/Failed task and returns them.
func (p *Pipeline) DrainTerminal() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result []*Task
	for id, t := range p.tasks {
		if t.IsTerminal() {
			delete(p.tasks, id)
			if p.stageCounts[t.Stage] > 0 {
				p.stageCounts[t.Stage]--
			}
			result = append(result, t)
		}
	}
	return result
}

func (p *Pipeline) updateStageCounts(old, new Stage) {
	if old == new {
		return
	}
	if p.stageCounts[old] > 0 {
		p.stageCounts[old]--
	}
	p.stageCounts[new]++
}
