package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

func TestNewSeedsProjectRoot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root, err := store.GetTask(ctx, types.ProjectRootID)
	if err != nil {
		t.Fatalf("GetTask(root) failed: %v", err)
	}
	if root == nil {
		t.Fatal("project root missing after New")
	}
	if root.ParentID != nil {
		t.Errorf("project root has parent %v, want nil", *root.ParentID)
	}
}

func TestNewRejectsUnsupportedBackend(t *testing.T) {
	_, err := New(context.Background(), "postgresql://localhost/astrotask", Options{})
	if !errors.Is(err, storage.ErrValidation) {
		t.Errorf("expected ErrValidation for postgresql backend, got %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/reopen.db"

	store, err := New(ctx, path, Options{Process: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	task := &types.Task{Title: "Survives reopen"}
	if err := store.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store2, err := New(ctx, path, Options{Process: "test"})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = store2.Close() }()

	got, err := store2.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil || got.Title != "Survives reopen" {
		t.Errorf("task did not survive reopen: %+v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store, err := New(context.Background(), t.TempDir()+"/close.db", Options{Process: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestAddTaskGeneratesCanonicalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "Top-level task"}
	if err := store.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if !types.IsValidTaskID(task.ID) {
		t.Errorf("generated ID %q is not canonical", task.ID)
	}
	if task.ParentID == nil || *task.ParentID != types.ProjectRootID {
		t.Errorf("parent defaulted to %v, want project root", task.ParentID)
	}
	if task.Status != types.StatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
	if task.PriorityScore != types.DefaultPriorityScore {
		t.Errorf("priorityScore = %d, want %d", task.PriorityScore, types.DefaultPriorityScore)
	}

	child := mustAddTask(t, store, task.ID, "Child task")
	if parent, ok := types.ParentIDOf(child.ID); !ok || parent != task.ID {
		t.Errorf("child ID %q does not extend parent %q", child.ID, task.ID)
	}
}

func TestAddTaskExplicitID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{ID: "AUTH", Title: "Auth epic"}
	if err := store.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	dup := &types.Task{ID: "AUTH", Title: "Duplicate"}
	if err := store.AddTask(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate ID: got %v, want ErrConflict", err)
	}

	bad := &types.Task{ID: "temp-3", Title: "Temp-format ID"}
	if err := store.AddTask(ctx, bad); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("temp-format ID: got %v, want ErrValidation", err)
	}
}

func TestAddTaskMissingParent(t *testing.T) {
	store := newTestStore(t)

	ghost := "GHOST"
	task := &types.Task{Title: "Orphan", ParentID: &ghost}
	if err := store.AddTask(context.Background(), task); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing parent: got %v, want ErrNotFound", err)
	}
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetTask(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing task, got %+v", got)
	}
}

func TestUpdateTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := mustAddTask(t, store, "", "Original")

	updated, err := store.UpdateTask(ctx, task.ID, map[string]interface{}{
		"title":          "Renamed",
		"priority_score": 80,
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if updated.Title != "Renamed" || updated.PriorityScore != 80 {
		t.Errorf("update not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(task.UpdatedAt) && !updated.UpdatedAt.Equal(task.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards: %v -> %v", task.UpdatedAt, updated.UpdatedAt)
	}
}

func TestUpdateTaskRejectsBadInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	task := mustAddTask(t, store, "", "Victim")

	cases := []struct {
		name    string
		updates map[string]interface{}
	}{
		{"unknown field", map[string]interface{}{"assignee": "alice"}},
		{"empty title", map[string]interface{}{"title": ""}},
		{"priority out of range", map[string]interface{}{"priority_score": 101}},
		{"bad status", map[string]interface{}{"status": "paused"}},
		{"no fields", map[string]interface{}{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.UpdateTask(ctx, task.ID, tc.updates); !errors.Is(err, storage.ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}

	if _, err := store.UpdateTask(ctx, "NOPE", map[string]interface{}{"title": "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing task: got %v, want ErrNotFound", err)
	}
	if _, err := store.UpdateTask(ctx, types.ProjectRootID, map[string]interface{}{"title": "x"}); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("project root update: got %v, want ErrValidation", err)
	}
}

func TestUpdateTaskReparent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustAddTask(t, store, "", "A")
	b := mustAddTask(t, store, a.ID, "B")
	c := mustAddTask(t, store, b.ID, "C")

	// Moving A under its own descendant C must fail.
	if _, err := store.UpdateTask(ctx, a.ID, map[string]interface{}{"parent_id": c.ID}); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("reparent under descendant: got %v, want ErrConflict", err)
	}

	// Moving C to the root is fine.
	moved, err := store.UpdateTask(ctx, c.ID, map[string]interface{}{"parent_id": types.ProjectRootID})
	if err != nil {
		t.Fatalf("reparent failed: %v", err)
	}
	if moved.ParentID == nil || *moved.ParentID != types.ProjectRootID {
		t.Errorf("parent = %v, want project root", moved.ParentID)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	store := newTestStore(t)
	task := mustAddTask(t, store, "", "Flip me")

	updated, err := store.UpdateTaskStatus(context.Background(), task.ID, types.StatusDone)
	if err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if updated.Status != types.StatusDone {
		t.Errorf("status = %s, want done", updated.Status)
	}
}

func TestDeleteTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := mustAddTask(t, store, "", "Parent")
	child := mustAddTask(t, store, parent.ID, "Child")

	// Absent ID is not an error.
	deleted, err := store.DeleteTask(ctx, "NOPE")
	if err != nil || deleted {
		t.Errorf("DeleteTask(absent) = (%v, %v), want (false, nil)", deleted, err)
	}

	// Parent still has a child.
	if _, err := store.DeleteTask(ctx, parent.ID); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("delete with children: got %v, want ErrConflict", err)
	}

	// A task with dependents is refused too.
	other := mustAddTask(t, store, "", "Blocker client")
	if _, err := store.AddTaskDependency(ctx, other.ID, child.ID); err != nil {
		t.Fatalf("AddTaskDependency failed: %v", err)
	}
	if _, err := store.DeleteTask(ctx, child.ID); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("delete with dependents: got %v, want ErrConflict", err)
	}
	if _, err := store.RemoveTaskDependency(ctx, other.ID, child.ID); err != nil {
		t.Fatalf("RemoveTaskDependency failed: %v", err)
	}

	deleted, err = store.DeleteTask(ctx, child.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteTask(child) = (%v, %v), want (true, nil)", deleted, err)
	}
	deleted, err = store.DeleteTask(ctx, parent.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteTask(parent) = (%v, %v), want (true, nil)", deleted, err)
	}

	if _, err := store.DeleteTask(ctx, types.ProjectRootID); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("delete project root: got %v, want ErrValidation", err)
	}
}

func TestListTasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	low := &types.Task{Title: "Low", PriorityScore: 10}
	if err := store.AddTask(ctx, low); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	high := &types.Task{Title: "High", PriorityScore: 90}
	if err := store.AddTask(ctx, high); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	finished := &types.Task{Title: "Finished", PriorityScore: 95, Status: types.StatusDone}
	if err := store.AddTask(ctx, finished); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	tasks, err := store.ListTasks(ctx, types.ListFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	// Done last; among the rest, priority descending.
	if tasks[0].ID != high.ID || tasks[1].ID != low.ID || tasks[2].ID != finished.ID {
		t.Errorf("wrong order: %s, %s, %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
	for _, task := range tasks {
		if task.ID == types.ProjectRootID {
			t.Error("project root leaked into default listing")
		}
	}

	pending, err := store.ListTasks(ctx, types.ListFilter{Statuses: []types.Status{types.StatusPending}})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("got %d pending tasks, want 2", len(pending))
	}

	withRoot, err := store.ListTasks(ctx, types.ListFilter{IncludeProjectRoot: true})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(withRoot) != 4 {
		t.Errorf("got %d tasks with root, want 4", len(withRoot))
	}
}

func TestStatistics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustAddTask(t, store, "", "A")
	b := mustAddTask(t, store, "", "B")
	if _, err := store.AddTaskDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddTaskDependency failed: %v", err)
	}
	if err := store.AddContextSlice(ctx, &types.ContextSlice{TaskID: a.ID, Title: "Note"}); err != nil {
		t.Fatalf("AddContextSlice failed: %v", err)
	}

	stats, err := store.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalTasks != 2 || stats.PendingTasks != 2 {
		t.Errorf("task counts wrong: %+v", stats)
	}
	if stats.Dependencies != 1 || stats.ContextSlices != 1 {
		t.Errorf("edge/slice counts wrong: %+v", stats)
	}
	if stats.BlockedTasks != 1 {
		t.Errorf("blocked = %d, want 1 (B waits on A)", stats.BlockedTasks)
	}
	if stats.ReadyTasks != 1 {
		t.Errorf("ready = %d, want 1 (only A)", stats.ReadyTasks)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	val, err := store.GetMetadata(ctx, "nonexistent")
	if err != nil || val != "" {
		t.Errorf("GetMetadata(absent) = (%q, %v), want (\"\", nil)", val, err)
	}

	if err := store.SetMetadata(ctx, "default_actor", "agent-7"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	val, err = store.GetMetadata(ctx, "default_actor")
	if err != nil || val != "agent-7" {
		t.Errorf("GetMetadata = (%q, %v), want (agent-7, nil)", val, err)
	}
}
