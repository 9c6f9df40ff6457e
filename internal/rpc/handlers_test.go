package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/astrotask/astrotask/internal/storage/sqlite"
	"github.com/astrotask/astrotask/internal/types"
)

func newTestHandler(t *testing.T) (*Handler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(context.Background(), t.TempDir()+"/test.db", sqlite.Options{Process: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return NewHandler(store), store
}

func call(t *testing.T, h *Handler, op string, args interface{}) Response {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			t.Fatalf("marshal args: %v", err)
		}
		raw = data
	}
	return h.Handle(context.Background(), &Request{Operation: op, Args: raw})
}

func mustCall(t *testing.T, h *Handler, op string, args interface{}) json.RawMessage {
	t.Helper()
	resp := call(t, h, op, args)
	if !resp.Success {
		t.Fatalf("%s failed: %s", op, resp.Error)
	}
	return resp.Data
}

func TestHandleUnknownOperation(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), &Request{Operation: "dropTables"})
	if resp.Success || !strings.Contains(resp.Error, "unknown operation") {
		t.Fatalf("expected unknown-operation failure, got %+v", resp)
	}
}

func TestAddTasksBatchWithRefs(t *testing.T) {
	h, store := newTestHandler(t)

	parentIdx := 0
	data := mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{
		{Title: "Epic"},
		{Title: "Design", ParentIndex: &parentIdx},
		{Title: "Implement", ParentIndex: &parentIdx, DependsOn: []int{1}},
	}})

	var result AddTasksResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Tasks) != 3 {
		t.Fatalf("expected 3 created tasks, got %d", len(result.Tasks))
	}
	epic, design, impl := result.Tasks[0], result.Tasks[1], result.Tasks[2]
	for _, task := range result.Tasks {
		if !types.IsValidTaskID(task.ID) {
			t.Errorf("non-canonical ID %s", task.ID)
		}
	}
	if *design.ParentID != epic.ID || *impl.ParentID != epic.ID {
		t.Fatalf("parentIndex not resolved: %s, %s under %s", *design.ParentID, *impl.ParentID, epic.ID)
	}

	deps, err := store.ListTaskDependencies(context.Background())
	if err != nil {
		t.Fatalf("ListTaskDependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].DependentTaskID != impl.ID || deps[0].DependencyTaskID != design.ID {
		t.Fatalf("dependsOn not persisted: %+v", deps)
	}
}

func TestAddTasksRejectsForwardParentIndex(t *testing.T) {
	h, _ := newTestHandler(t)
	idx := 1
	resp := call(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{
		{Title: "A", ParentIndex: &idx},
		{Title: "B"},
	}})
	if resp.Success || !strings.Contains(resp.Error, "parentIndex") {
		t.Fatalf("expected parentIndex rejection, got %+v", resp)
	}
}

func TestGetTask(t *testing.T) {
	h, _ := newTestHandler(t)
	data := mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{{Title: "Solo"}}})
	var result AddTasksResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := mustCall(t, h, OpGetTask, GetTaskArgs{TaskID: result.Tasks[0].ID})
	var task types.Task
	if err := json.Unmarshal(got, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Title != "Solo" {
		t.Fatalf("wrong task: %+v", task)
	}

	resp := call(t, h, OpGetTask, GetTaskArgs{TaskID: "GHOST"})
	if resp.Success || !strings.Contains(resp.Error, "not found") {
		t.Fatalf("expected not-found failure, got %+v", resp)
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	h, _ := newTestHandler(t)
	done := string(types.StatusDone)
	mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{
		{Title: "Open"},
		{Title: "Finished", Status: &done},
	}})

	data := mustCall(t, h, OpListTasks, ListTasksArgs{Statuses: []string{"done"}})
	var tasks []*types.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Finished" {
		t.Fatalf("status filter broken: %+v", tasks)
	}

	resp := call(t, h, OpListTasks, ListTasksArgs{Statuses: []string{"bogus"}})
	if resp.Success {
		t.Fatal("expected invalid status rejection")
	}
}

func TestGetNextTaskPrefersUnblocked(t *testing.T) {
	h, _ := newTestHandler(t)
	high, low := 90, 40
	mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{
		{Title: "Blocked", PriorityScore: &high, DependsOn: []int{1}},
		{Title: "Free", PriorityScore: &low},
	}})

	data := mustCall(t, h, OpGetNextTask, nil)
	var next *types.Task
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if next == nil || next.Title != "Free" {
		t.Fatalf("expected Free, got %+v", next)
	}
}

func TestGetNextTaskNothingAvailable(t *testing.T) {
	h, _ := newTestHandler(t)
	data := mustCall(t, h, OpGetNextTask, nil)
	var next *types.Task
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if next != nil {
		t.Fatalf("expected null, got %+v", next)
	}
}

func TestAddTaskContext(t *testing.T) {
	h, store := newTestHandler(t)
	data := mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{{Title: "Task"}}})
	var result AddTasksResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := result.Tasks[0].ID

	ctype := "research"
	mustCall(t, h, OpAddTaskContext, AddTaskContextArgs{
		TaskID: id, Title: "Findings", Description: "links", ContextType: &ctype,
	})

	slices, err := store.ListContextSlices(context.Background(), id)
	if err != nil {
		t.Fatalf("ListContextSlices: %v", err)
	}
	if len(slices) != 1 || slices[0].ContextType != "research" {
		t.Fatalf("slice not persisted: %+v", slices)
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	h, _ := newTestHandler(t)
	data := mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{
		{Title: "A"}, {Title: "B", DependsOn: []int{0}},
	}})
	var result AddTasksResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, b := result.Tasks[0].ID, result.Tasks[1].ID

	resp := call(t, h, OpAddDependency, AddDependencyArgs{DependentTaskID: a, DependencyTaskID: b})
	if resp.Success {
		t.Fatal("expected cycle rejection")
	}
}

func TestUpdateStatusCascade(t *testing.T) {
	h, store := newTestHandler(t)
	parentIdx := 0
	data := mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{
		{Title: "Epic"},
		{Title: "Step one", ParentIndex: &parentIdx},
		{Title: "Step two", ParentIndex: &parentIdx},
	}})
	var result AddTasksResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	epic := result.Tasks[0].ID

	mustCall(t, h, OpUpdateStatus, UpdateStatusArgs{TaskID: epic, Status: "done", Cascade: true})

	tasks, err := store.ListTasks(context.Background(), types.ListFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	for _, task := range tasks {
		if task.Status != types.StatusDone {
			t.Errorf("task %s not cascaded: %s", task.ID, task.Status)
		}
	}
}

func TestDeleteTaskCascade(t *testing.T) {
	h, store := newTestHandler(t)
	parentIdx := 0
	data := mustCall(t, h, OpAddTasks, AddTasksArgs{Tasks: []TaskDraft{
		{Title: "Epic"},
		{Title: "Step", ParentIndex: &parentIdx},
	}})
	var result AddTasksResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	epic := result.Tasks[0].ID

	// Without cascade the parent still has a child.
	resp := call(t, h, OpDeleteTask, DeleteTaskArgs{TaskID: epic})
	if resp.Success {
		t.Fatal("expected delete-with-children rejection")
	}

	out := mustCall(t, h, OpDeleteTask, DeleteTaskArgs{TaskID: epic, Cascade: true})
	var dres DeleteTaskResult
	if err := json.Unmarshal(out, &dres); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dres.Deleted || dres.Removed != 2 {
		t.Fatalf("expected 2 removals, got %+v", dres)
	}

	tasks, err := store.ListTasks(context.Background(), types.ListFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("subtree survived: %+v", tasks)
	}
}
