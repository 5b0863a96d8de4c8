package pipeline

import "testing"

func TestStageProgression(t *testing.T) {
	task := NewTask("t1", "Test task")
	if task.Stage != Queued {
		t.Fatalf("expected Queued, got %v", task.Stage)
	}

	wantOrder := []Stage{Planning, Implementing, Testing, Reviewing, Completed}
	for _, want := range wantOrder {
		if !task.Advance() {
			t.Fatalf("expected advance to %v to succeed", want)
		}
		if task.Stage != want {
			t.Fatalf("expected %v, got %v", want, task.Stage)
		}
	}
	if task.Advance() {
		t.Fatal("expected no further advance from Completed")
	}
}

func TestPipelineManagerStageCounts(t *testing.T) {
	p := New()
	p.Add(NewTask("t1", "Task 1"))
	p.Add(NewTask("t2", "Task 2"))

	if len(p.TasksAtStage(Queued)) != 2 {
		t.Fatalf("expected 2 queued tasks")
	}

	p.Advance("t1")
	if len(p.TasksAtStage(Queued)) != 1 || len(p.TasksAtStage(Planning)) != 1 {
		t.Fatalf("expected one queued, one planning")
	}
}

func TestCreateFromGoalAndStageTasks(t *testing.T) {
	p := New()
	id := p.CreateFromGoal("Build feature")

	tasks, err := p.GetStageTasks(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no stage tasks while Queued, got %d", len(tasks))
	}

	p.Advance(id)
	planningTasks, err := p.GetStageTasks(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(planningTasks) != len(ActiveRoles(Planning)) {
		t.Fatalf("expected %d planning tasks, got %d", len(ActiveRoles(Planning)), len(planningTasks))
	}
}

// TestHandleRoleCompleteAdvancesStage is scenario S6.
func TestHandleRoleCompleteAdvancesStage(t *testing.T) {
	p := New()
	id := p.CreateFromGoal("Build feature")
	p.Advance(id) // Planning

	roles := ActiveRoles(Planning)
	var lastAction StageAction
	for _, role := range roles {
		action, err := p.HandleRoleComplete(id, role, "ok", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastAction = action
	}

	if lastAction.Kind != ActionAdvance || lastAction.NewStage != Implementing {
		t.Fatalf("expected advance to Implementing, got %+v", lastAction)
	}

	task := p.Get(id)
	if task.Stage != Implementing {
		t.Fatalf("expected Implementing, got %v", task.Stage)
	}

	counts := p.StageCounts()
	if counts[Implementing] != 1 {
		t.Fatalf("expected stage_counts[Implementing]=1, got %+v", counts)
	}
}

func TestHandleRoleCompleteMarksFailure(t *testing.T) {
	p := New()
	id := p.CreateFromGoal("Goal")
	p.Advance(id) // Planning

	action, err := p.HandleRoleComplete(id, "Coordinator", "error", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Kind != ActionFail {
		t.Fatalf("expected Fail action, got %+v", action)
	}

	task := p.Get(id)
	if task.Stage != Failed {
		t.Fatalf("expected Failed, got %v", task.Stage)
	}
}

func TestTaskFailure(t *testing.T) {
	task := NewTask("t1", "Test")
	task.Advance() // Planning
	task.Fail("something went wrong")

	if task.Stage != Failed || !task.IsTerminal() {
		t.Fatalf("expected task to be terminally Failed")
	}
}

func TestGetStageTasksUnknownTask(t *testing.T) {
	p := New()
	_, err := p.GetStageTasks("missing")
	if _, ok := err.(*TaskNotFoundError); !ok {
		t.Fatalf("expected TaskNotFoundError, got %v", err)
	}
}

func TestDrainTerminalRemovesCompletedAndFailed(t *testing.T) {
	p := New()
	id1 := p.CreateFromGoal("done")
	for p.Get(id1).Stage != Completed {
		p.Advance(id1)
	}
	id2 := p.CreateFromGoal("still queued")

	drained := p.DrainTerminal()
	if len(drained) != 1 || drained[0].ID != id1 {
		t.Fatalf("expected only id1 drained, got %+v", drained)
	}
	if p.Get(id1) != nil {
		t.Fatal("expected id1 removed from pipeline")
	}
	if p.Get(id2) == nil {
		t.Fatal("expected id2 to remain")
	}
}
