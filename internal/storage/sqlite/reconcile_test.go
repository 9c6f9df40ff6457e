package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

func TestExecuteTreeOperationsChildAdd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A subtree arriving entirely with temp IDs: epic with two children.
	plan := &types.TreeReconciliationPlan{
		RootID: types.ProjectRootID,
		Operations: []types.TreeOperation{
			{
				Kind:     types.OpChildAdd,
				ParentID: types.ProjectRootID,
				Child: &types.TreeData{
					Task: types.Task{ID: "temp-0", Title: "Epic"},
					Children: []*types.TreeData{
						{Task: types.Task{ID: "temp-1", Title: "First step", PriorityScore: 70}},
						{Task: types.Task{ID: "temp-2", Title: "Second step"}},
					},
				},
			},
		},
	}

	tree, mapping, err := store.ExecuteTreeOperations(ctx, plan)
	if err != nil {
		t.Fatalf("ExecuteTreeOperations failed: %v", err)
	}
	if len(mapping) != 3 {
		t.Fatalf("got %d mappings, want 3: %v", len(mapping), mapping)
	}
	for temp, real := range mapping {
		if !types.IsTempID(temp) {
			t.Errorf("mapping key %q is not a temp ID", temp)
		}
		if !types.IsValidTaskID(real) {
			t.Errorf("mapping value %q is not canonical", real)
		}
	}

	epicID := mapping["temp-0"]
	if parent, ok := types.ParentIDOf(mapping["temp-1"]); !ok || parent != epicID {
		t.Errorf("child ID %q does not extend epic %q", mapping["temp-1"], epicID)
	}

	if tree.Task.ID != types.ProjectRootID {
		t.Fatalf("result rooted at %s, want project root", tree.Task.ID)
	}
	if len(tree.Children) != 1 || tree.Children[0].Task.ID != epicID {
		t.Fatalf("epic missing from result tree")
	}
	children := tree.Children[0].Children
	if len(children) != 2 {
		t.Fatalf("got %d epic children, want 2", len(children))
	}
	// Canonical order: priority 70 before default 50.
	if children[0].Task.Title != "First step" {
		t.Errorf("children out of canonical order: %q first", children[0].Task.Title)
	}
}

func TestExecuteTreeOperationsUpdateAndRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	epic := mustAddTask(t, store, "", "Epic")
	child := mustAddTask(t, store, epic.ID, "Child")
	grandchild := mustAddTask(t, store, child.ID, "Grandchild")
	outsider := mustAddTask(t, store, "", "Outsider")
	if _, err := store.AddTaskDependency(ctx, outsider.ID, grandchild.ID); err != nil {
		t.Fatalf("AddTaskDependency failed: %v", err)
	}

	plan := &types.TreeReconciliationPlan{
		RootID: epic.ID,
		Operations: []types.TreeOperation{
			{Kind: types.OpTaskUpdate, TaskID: epic.ID, Updates: map[string]interface{}{"title": "Epic v2"}},
			{Kind: types.OpChildRemove, ParentID: epic.ID, ChildID: child.ID},
		},
	}
	tree, mapping, err := store.ExecuteTreeOperations(ctx, plan)
	if err != nil {
		t.Fatalf("ExecuteTreeOperations failed: %v", err)
	}
	if len(mapping) != 0 {
		t.Errorf("unexpected mappings: %v", mapping)
	}
	if tree.Task.Title != "Epic v2" {
		t.Errorf("update not applied: %q", tree.Task.Title)
	}
	if len(tree.Children) != 0 {
		t.Errorf("removed child still present")
	}

	// The whole subtree and its incident edges are gone.
	for _, id := range []string{child.ID, grandchild.ID} {
		got, err := store.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if got != nil {
			t.Errorf("task %s survived subtree removal", id)
		}
	}
	deps, err := store.ListTaskDependencies(ctx)
	if err != nil {
		t.Fatalf("ListTaskDependencies failed: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("incident edges survived: %d left", len(deps))
	}
}

func TestExecuteTreeOperationsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plan := &types.TreeReconciliationPlan{
		RootID: types.ProjectRootID,
		Operations: []types.TreeOperation{
			{
				Kind:     types.OpChildAdd,
				ParentID: types.ProjectRootID,
				Child:    &types.TreeData{Task: types.Task{ID: "temp-0", Title: "Will roll back"}},
			},
			// References a task that does not exist: the plan must fail.
			{Kind: types.OpTaskUpdate, TaskID: "GHOST", Updates: map[string]interface{}{"title": "x"}},
		},
	}

	_, _, err := store.ExecuteTreeOperations(ctx, plan)
	if err == nil {
		t.Fatal("expected failure")
	}
	var recErr *storage.ReconciliationError
	if !errors.As(err, &recErr) {
		t.Fatalf("got %T, want ReconciliationError", err)
	}
	if len(recErr.TreeOps) != 2 {
		t.Errorf("error carries %d ops, want 2", len(recErr.TreeOps))
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cause not surfaced: %v", err)
	}

	// The first operation must have rolled back with the rest.
	tasks, err := store.ListTasks(ctx, types.ListFilter{})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("partial plan persisted: %d tasks", len(tasks))
	}
}

func TestExecuteTreeOperationsEmptyPlan(t *testing.T) {
	store := newTestStore(t)
	epic := mustAddTask(t, store, "", "Epic")

	tree, mapping, err := store.ExecuteTreeOperations(context.Background(), &types.TreeReconciliationPlan{RootID: epic.ID})
	if err != nil {
		t.Fatalf("ExecuteTreeOperations failed: %v", err)
	}
	if len(mapping) != 0 {
		t.Errorf("unexpected mappings: %v", mapping)
	}
	if tree.Task.ID != epic.ID {
		t.Errorf("tree rooted at %s, want %s", tree.Task.ID, epic.ID)
	}
}

func TestApplyGraphOperations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustAddTask(t, store, "", "A")
	b := mustAddTask(t, store, "", "B")
	c := mustAddTask(t, store, "", "C")

	deps, err := store.ApplyGraphOperations(ctx, &types.GraphReconciliationPlan{
		GraphID: types.ProjectRootID,
		Operations: []types.GraphOperation{
			{Kind: types.OpDepAdd, DependentID: b.ID, DependencyID: a.ID},
			{Kind: types.OpDepAdd, DependentID: c.ID, DependencyID: b.ID},
			{Kind: types.OpDepRemove, DependentID: b.ID, DependencyID: a.ID},
		},
	})
	if err != nil {
		t.Fatalf("ApplyGraphOperations failed: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("got %d edges, want 1", len(deps))
	}
	if deps[0].DependentTaskID != c.ID || deps[0].DependencyTaskID != b.ID {
		t.Errorf("wrong surviving edge: %+v", deps[0])
	}
}

func TestApplyGraphOperationsRejectsTempAndCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustAddTask(t, store, "", "A")
	b := mustAddTask(t, store, "", "B")

	_, err := store.ApplyGraphOperations(ctx, &types.GraphReconciliationPlan{
		Operations: []types.GraphOperation{
			{Kind: types.OpDepAdd, DependentID: "temp-1", DependencyID: a.ID},
		},
	})
	var recErr *storage.ReconciliationError
	if !errors.As(err, &recErr) {
		t.Fatalf("temp endpoint: got %T, want ReconciliationError", err)
	}

	// A plan that closes a cycle fails atomically.
	if _, err := store.AddTaskDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddTaskDependency failed: %v", err)
	}
	_, err = store.ApplyGraphOperations(ctx, &types.GraphReconciliationPlan{
		Operations: []types.GraphOperation{
			{Kind: types.OpDepAdd, DependentID: a.ID, DependencyID: b.ID},
		},
	})
	if !errors.Is(err, storage.ErrCycle) {
		t.Errorf("cycle plan: got %v, want ErrCycle", err)
	}

	deps, err := store.ListTaskDependencies(ctx)
	if err != nil {
		t.Fatalf("ListTaskDependencies failed: %v", err)
	}
	if len(deps) != 1 {
		t.Errorf("edge set changed by failed plan: %d edges", len(deps))
	}
}
