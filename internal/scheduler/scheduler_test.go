package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/astrotask/astrotask/internal/depgraph"
	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/tasktree"
	"github.com/astrotask/astrotask/internal/types"
)

type fixtureTask struct {
	id, parent string
	status     types.Status
	priority   int
}

func buildScheduler(t *testing.T, tasks []fixtureTask, edges [][2]string) *Scheduler {
	t.Helper()

	base := time.Now()
	flat := []*types.Task{{ID: types.ProjectRootID, Title: "Root", Status: types.StatusPending}}
	for i, ft := range tasks {
		parent := ft.parent
		if parent == "" {
			parent = types.ProjectRootID
		}
		flat = append(flat, &types.Task{
			ID:            ft.id,
			ParentID:      &parent,
			Title:         "Task " + ft.id,
			Status:        ft.status,
			PriorityScore: ft.priority,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
	}

	tree, ok := tasktree.Build(types.ProjectRootID, flat)
	if !ok {
		t.Fatal("failed to build tree")
	}
	var deps []*types.TaskDependency
	for _, e := range edges {
		deps = append(deps, &types.TaskDependency{
			ID: e[0] + ">" + e[1], DependentTaskID: e[0], DependencyTaskID: e[1],
		})
	}
	return New(tree, depgraph.New(flat, deps))
}

func TestNextTaskPrefersPriority(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "LOW", status: types.StatusPending, priority: 20},
		{id: "HIGH", status: types.StatusPending, priority: 90},
		{id: "BUSY", status: types.StatusInProgress, priority: 99},
	}, nil)

	next := s.NextTask(types.TaskFilter{})
	if next == nil || next.ID != "HIGH" {
		t.Fatalf("NextTask = %+v, want HIGH", next)
	}
}

func TestNextTaskSkipsBlockedAndInherited(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "A", status: types.StatusPending, priority: 90},
		{id: "B", status: types.StatusPending, priority: 50},
		{id: "DEAD", status: types.StatusCancelled, priority: 95},
		{id: "DEAD-X", parent: "DEAD", status: types.StatusPending, priority: 99},
	}, [][2]string{{"A", "B"}})

	// A is blocked by pending B; DEAD-X inherits cancelled; B wins.
	next := s.NextTask(types.TaskFilter{})
	if next == nil || next.ID != "B" {
		t.Fatalf("NextTask = %+v, want B", next)
	}
}

func TestNextTaskNothingAvailable(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "DONE", status: types.StatusDone, priority: 50},
	}, nil)
	if next := s.NextTask(types.TaskFilter{}); next != nil {
		t.Fatalf("NextTask = %+v, want nil", next)
	}
}

func TestAvailableTasksFilter(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "A", status: types.StatusPending, priority: 30},
		{id: "B", status: types.StatusPending, priority: 70},
		{id: "C", status: types.StatusPending, priority: 90},
	}, [][2]string{{"C", "A"}})

	minScore := 50
	got := s.AvailableTasks(types.TaskFilter{PriorityScore: &minScore})
	if len(got) != 1 || got[0].ID != "B" {
		t.Fatalf("filtered available = %v, want just B (C is blocked)", ids(got))
	}

	withBlocked := s.AvailableTasks(types.TaskFilter{PriorityScore: &minScore, IncludeBlocked: true})
	if len(withBlocked) != 2 {
		t.Fatalf("with blocked = %v, want C and B", ids(withBlocked))
	}
}

func ids(tasks []*types.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID
	}
	return out
}

func TestCanStartWork(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "FREE", status: types.StatusPending, priority: 50},
		{id: "BLOCKED", status: types.StatusPending, priority: 50},
		{id: "GATE", status: types.StatusPending, priority: 50},
		{id: "RUNNING", status: types.StatusInProgress, priority: 50},
	}, [][2]string{{"BLOCKED", "GATE"}})

	if err := s.CanStartWork("FREE"); err != nil {
		t.Errorf("CanStartWork(FREE) = %v, want nil", err)
	}
	if err := s.CanStartWork("BLOCKED"); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("CanStartWork(BLOCKED) = %v, want ErrConflict", err)
	}
	if err := s.CanStartWork("RUNNING"); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("CanStartWork(RUNNING) = %v, want ErrConflict", err)
	}
	if err := s.CanStartWork("GHOST"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CanStartWork(GHOST) = %v, want ErrNotFound", err)
	}
}

func TestPlanStart(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "BLOCKED", status: types.StatusPending, priority: 50},
		{id: "GATE", status: types.StatusPending, priority: 50},
		{id: "DONE", status: types.StatusDone, priority: 50},
	}, [][2]string{{"BLOCKED", "GATE"}})

	if _, err := s.PlanStart("BLOCKED", false); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("unforced start of blocked task: %v, want ErrConflict", err)
	}

	plan, err := s.PlanStart("BLOCKED", true)
	if err != nil {
		t.Fatalf("forced start failed: %v", err)
	}
	if !plan.Forced || len(plan.Changes) != 1 || plan.Changes[0].Status != types.StatusInProgress {
		t.Errorf("forced plan wrong: %+v", plan)
	}

	if _, err := s.PlanStart("DONE", true); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("forcing a done task: %v, want ErrConflict", err)
	}
}

func TestPlanCompletionCascade(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "EPIC", status: types.StatusInProgress, priority: 50},
		{id: "EPIC-A", parent: "EPIC", status: types.StatusPending, priority: 50},
		{id: "EPIC-B", parent: "EPIC", status: types.StatusDone, priority: 50},
	}, nil)

	plan, err := s.PlanCompletion("EPIC", true)
	if err != nil {
		t.Fatalf("PlanCompletion failed: %v", err)
	}
	// EPIC itself plus the non-terminal EPIC-A; EPIC-B is already done.
	if len(plan.Changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(plan.Changes), plan.Changes)
	}

	noCascade, err := s.PlanCompletion("EPIC", false)
	if err != nil {
		t.Fatalf("PlanCompletion failed: %v", err)
	}
	if len(noCascade.Changes) != 1 {
		t.Errorf("without cascade got %d changes, want 1", len(noCascade.Changes))
	}
}

func TestPlanCompletionReportsUnblocked(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "GATE", status: types.StatusInProgress, priority: 50},
		{id: "WAITER", status: types.StatusPending, priority: 50},
		{id: "DOUBLE", status: types.StatusPending, priority: 50},
		{id: "OTHER", status: types.StatusPending, priority: 50},
	}, [][2]string{{"WAITER", "GATE"}, {"DOUBLE", "GATE"}, {"DOUBLE", "OTHER"}})

	plan, err := s.PlanCompletion("GATE", false)
	if err != nil {
		t.Fatalf("PlanCompletion failed: %v", err)
	}
	// WAITER's only gate falls; DOUBLE still waits on OTHER.
	if len(plan.Unblocked) != 1 || plan.Unblocked[0].ID != "WAITER" {
		t.Errorf("Unblocked = %v, want WAITER", ids(plan.Unblocked))
	}
}

func TestPlanCompletionAutoStartWidensScope(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "EPIC", status: types.StatusPending, priority: 50},
		{id: "EPIC-A", parent: "EPIC", status: types.StatusInProgress, priority: 50},
		{id: "EPIC-B", parent: "EPIC", status: types.StatusPending, priority: 40},
		{id: "FAR", status: types.StatusPending, priority: 99},
	}, nil)

	// Completing EPIC-A: the sibling EPIC-B wins over the higher-priority
	// FAR because scope widens outward from the completed task.
	plan, err := s.PlanCompletion("EPIC-A", false)
	if err != nil {
		t.Fatalf("PlanCompletion failed: %v", err)
	}
	if plan.NextTask == nil || plan.NextTask.ID != "EPIC-B" {
		t.Errorf("NextTask = %+v, want EPIC-B", plan.NextTask)
	}
	// The auto-started task is part of the plan, not just a suggestion.
	last := plan.Changes[len(plan.Changes)-1]
	if last.TaskID != "EPIC-B" || last.Status != types.StatusInProgress {
		t.Errorf("last change = %+v, want EPIC-B in-progress", last)
	}

	// Completing EPIC-B when the epic has nothing left pending falls back
	// to the widest scope.
	s2 := buildScheduler(t, []fixtureTask{
		{id: "EPIC", status: types.StatusInProgress, priority: 50},
		{id: "EPIC-A", parent: "EPIC", status: types.StatusInProgress, priority: 50},
		{id: "FAR", status: types.StatusPending, priority: 99},
	}, nil)
	plan2, err := s2.PlanCompletion("EPIC-A", false)
	if err != nil {
		t.Fatalf("PlanCompletion failed: %v", err)
	}
	if plan2.NextTask == nil || plan2.NextTask.ID != "FAR" {
		t.Errorf("NextTask = %+v, want FAR", plan2.NextTask)
	}
}

func TestPlanCompletionRejections(t *testing.T) {
	s := buildScheduler(t, []fixtureTask{
		{id: "DONE", status: types.StatusDone, priority: 50},
	}, nil)

	if _, err := s.PlanCompletion("GHOST", false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ghost: %v, want ErrNotFound", err)
	}
	if _, err := s.PlanCompletion("DONE", false); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("already done: %v, want ErrConflict", err)
	}
	if _, err := s.PlanCompletion(types.ProjectRootID, false); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("project root: %v, want ErrValidation", err)
	}
}
