package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/astrotask/astrotask/internal/depgraph"
	"github.com/astrotask/astrotask/internal/scheduler"
	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/tasktree"
	"github.com/astrotask/astrotask/internal/tracking"
	"github.com/astrotask/astrotask/internal/types"
)

// Handler serves the tool surface against one store. Safe for concurrent
// use; each request loads its own snapshot where one is needed.
type Handler struct {
	store storage.Storage
}

// NewHandler wires the tool surface to a store.
func NewHandler(store storage.Storage) *Handler {
	return &Handler{store: store}
}

// Handle dispatches a request to the matching tool handler.
func (h *Handler) Handle(ctx context.Context, req *Request) Response {
	switch req.Operation {
	case OpGetNextTask:
		return h.handleGetNextTask(ctx, req)
	case OpGetTask:
		return h.handleGetTask(ctx, req)
	case OpAddTasks:
		return h.handleAddTasks(ctx, req)
	case OpListTasks:
		return h.handleListTasks(ctx, req)
	case OpAddTaskContext:
		return h.handleAddTaskContext(ctx, req)
	case OpAddDependency:
		return h.handleAddDependency(ctx, req)
	case OpUpdateStatus:
		return h.handleUpdateStatus(ctx, req)
	case OpDeleteTask:
		return h.handleDeleteTask(ctx, req)
	default:
		return fail("unknown operation: %s", req.Operation)
	}
}

func ok(v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return fail("encode result: %v", err)
	}
	return Response{Success: true, Data: data}
}

func fail(format string, args ...interface{}) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// snapshot loads the current tree and dependency edges in parallel.
func (h *Handler) snapshot(ctx context.Context) (*tasktree.Tree, []*types.TaskDependency, error) {
	var (
		tasks []*types.Task
		deps  []*types.TaskDependency
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = h.store.ListTasks(gctx, types.ListFilter{IncludeProjectRoot: true})
		return err
	})
	g.Go(func() error {
		var err error
		deps, err = h.store.ListTaskDependencies(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	tree, ok := tasktree.Build(types.ProjectRootID, tasks)
	if !ok {
		return nil, nil, fmt.Errorf("%w: project root missing", storage.ErrStorage)
	}
	return tree, deps, nil
}

func (h *Handler) handleGetNextTask(ctx context.Context, req *Request) Response {
	var args GetNextTaskArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return fail("invalid getNextTask args: %v", err)
		}
	}

	filter := types.TaskFilter{PriorityScore: args.PriorityScore, ParentID: args.ParentTaskID}
	if args.Status != nil {
		status := types.Status(*args.Status)
		if !status.IsValid() {
			return fail("invalid status: %s", *args.Status)
		}
		filter.Status = &status
	}

	tree, deps, err := h.snapshot(ctx)
	if err != nil {
		return fail("load snapshot: %v", err)
	}
	next := scheduler.New(tree, depgraph.New(tree.ToTreeData().Flatten(), deps)).NextTask(filter)
	return ok(next)
}

func (h *Handler) handleGetTask(ctx context.Context, req *Request) Response {
	var args GetTaskArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid getTask args: %v", err)
	}
	if args.TaskID == "" {
		return fail("taskId is required")
	}
	task, err := h.store.GetTask(ctx, args.TaskID)
	if err != nil {
		return fail("get task: %v", err)
	}
	if task == nil {
		return fail("task not found: %s", args.TaskID)
	}
	return ok(task)
}

// AddTasksResult reports the batch outcome in input order.
type AddTasksResult struct {
	Tasks []*types.Task `json:"tasks"`
}

func (h *Handler) handleAddTasks(ctx context.Context, req *Request) Response {
	var args AddTasksArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid addTasks args: %v", err)
	}
	if len(args.Tasks) == 0 {
		return fail("tasks is required")
	}

	tree, deps, err := h.snapshot(ctx)
	if err != nil {
		return fail("load snapshot: %v", err)
	}
	overlay := tracking.NewTreeOverlay(tree)
	graph := tracking.NewGraphOverlay(deps)
	edges := false

	// First pass attaches every draft, resolving parentIndex references to
	// the temp IDs already minted for earlier entries.
	tempIDs := make([]string, len(args.Tasks))
	for i, draft := range args.Tasks {
		parentID := types.ProjectRootID
		switch {
		case draft.ParentIndex != nil:
			idx := *draft.ParentIndex
			if idx < 0 || idx >= i {
				return fail("task %d: parentIndex %d must reference an earlier entry", i, idx)
			}
			parentID = tempIDs[idx]
		case draft.ParentTaskID != nil && *draft.ParentTaskID != "":
			parentID = *draft.ParentTaskID
		}

		task := types.Task{Title: draft.Title}
		if draft.Description != nil {
			task.Description = draft.Description
		}
		if draft.Status != nil {
			task.Status = types.Status(*draft.Status)
		}
		if draft.PriorityScore != nil {
			task.PriorityScore = *draft.PriorityScore
		}

		next, tempID, err := overlay.AddChild(parentID, task)
		if err != nil {
			return fail("task %d (%s): %v", i, draft.Title, err)
		}
		overlay = next
		tempIDs[i] = tempID
	}

	for i, draft := range args.Tasks {
		for _, dep := range draft.DependsOn {
			if dep < 0 || dep >= len(args.Tasks) || dep == i {
				return fail("task %d: dependsOn index %d out of range", i, dep)
			}
			next, err := graph.WithDependency(tempIDs[i], tempIDs[dep])
			if err != nil {
				return fail("task %d: dependsOn %d: %v", i, dep, err)
			}
			graph = next
			edges = true
		}
	}

	_, mapping, err := overlay.Flush(ctx, h.store)
	if err != nil {
		return fail("flush tasks: %v", err)
	}
	if edges {
		if _, err := graph.ApplyIDMappings(mapping).Flush(ctx, h.store, types.ProjectRootID); err != nil {
			return fail("flush dependencies: %v", err)
		}
	}

	result := AddTasksResult{Tasks: make([]*types.Task, len(tempIDs))}
	for i, tempID := range tempIDs {
		task, err := h.store.GetTask(ctx, mapping[tempID])
		if err != nil || task == nil {
			return fail("reload created task %s: %v", mapping[tempID], err)
		}
		result.Tasks[i] = task
	}
	return ok(result)
}

func (h *Handler) handleListTasks(ctx context.Context, req *Request) Response {
	var args ListTasksArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return fail("invalid listTasks args: %v", err)
		}
	}

	filter := types.ListFilter{ParentID: args.ParentID, IncludeProjectRoot: args.IncludeProjectRoot}
	for _, s := range args.Statuses {
		status := types.Status(s)
		if !status.IsValid() {
			return fail("invalid status: %s", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	tasks, err := h.store.ListTasks(ctx, filter)
	if err != nil {
		return fail("list tasks: %v", err)
	}
	return ok(tasks)
}

func (h *Handler) handleAddTaskContext(ctx context.Context, req *Request) Response {
	var args AddTaskContextArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid addTaskContext args: %v", err)
	}
	if args.TaskID == "" || args.Title == "" {
		return fail("taskId and title are required")
	}

	slice := &types.ContextSlice{
		TaskID:      args.TaskID,
		Title:       args.Title,
		Description: args.Description,
	}
	if args.ContextType != nil {
		slice.ContextType = *args.ContextType
	}
	if err := h.store.AddContextSlice(ctx, slice); err != nil {
		return fail("add context slice: %v", err)
	}
	return ok(slice)
}

func (h *Handler) handleAddDependency(ctx context.Context, req *Request) Response {
	var args AddDependencyArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid addDependency args: %v", err)
	}
	if args.DependentTaskID == "" || args.DependencyTaskID == "" {
		return fail("dependentTaskId and dependencyTaskId are required")
	}
	dep, err := h.store.AddTaskDependency(ctx, args.DependentTaskID, args.DependencyTaskID)
	if err != nil {
		return fail("add dependency: %v", err)
	}
	return ok(dep)
}

func (h *Handler) handleUpdateStatus(ctx context.Context, req *Request) Response {
	var args UpdateStatusArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid updateStatus args: %v", err)
	}
	status := types.Status(args.Status)
	if !status.IsValid() {
		return fail("invalid status: %s", args.Status)
	}

	if !args.Cascade {
		task, err := h.store.UpdateTaskStatus(ctx, args.TaskID, status)
		if err != nil {
			return fail("update status: %v", err)
		}
		return ok(task)
	}

	// Cascade journals the whole subtree into one plan so the transition
	// lands atomically.
	tree, _, err := h.snapshot(ctx)
	if err != nil {
		return fail("load snapshot: %v", err)
	}
	if tree.Find(args.TaskID) == nil {
		return fail("task not found: %s", args.TaskID)
	}
	overlay := tracking.NewTreeOverlay(tree)
	overlay, err = overlay.UpdateStatus(args.TaskID, status)
	if err != nil {
		return fail("update status: %v", err)
	}
	for _, desc := range tree.Descendants(args.TaskID) {
		if desc.Status == status {
			continue
		}
		overlay, err = overlay.UpdateStatus(desc.ID, status)
		if err != nil {
			return fail("update status of %s: %v", desc.ID, err)
		}
	}
	if _, _, err := overlay.Flush(ctx, h.store); err != nil {
		return fail("flush status updates: %v", err)
	}

	task, err := h.store.GetTask(ctx, args.TaskID)
	if err != nil || task == nil {
		return fail("reload task %s: %v", args.TaskID, err)
	}
	return ok(task)
}

// DeleteTaskResult reports what a delete removed.
type DeleteTaskResult struct {
	Deleted bool `json:"deleted"`
	// Removed counts the task plus cascaded descendants.
	Removed int `json:"removed"`
}

func (h *Handler) handleDeleteTask(ctx context.Context, req *Request) Response {
	var args DeleteTaskArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fail("invalid deleteTask args: %v", err)
	}
	if args.TaskID == "" {
		return fail("taskId is required")
	}

	if !args.Cascade {
		deleted, err := h.store.DeleteTask(ctx, args.TaskID)
		if err != nil {
			return fail("delete task: %v", err)
		}
		removed := 0
		if deleted {
			removed = 1
		}
		return ok(DeleteTaskResult{Deleted: deleted, Removed: removed})
	}

	tree, _, err := h.snapshot(ctx)
	if err != nil {
		return fail("load snapshot: %v", err)
	}
	if tree.Find(args.TaskID) == nil {
		return ok(DeleteTaskResult{Deleted: false})
	}
	removed := 1 + len(tree.Descendants(args.TaskID))

	overlay := tracking.NewTreeOverlay(tree)
	overlay, err = overlay.RemoveChild(args.TaskID)
	if err != nil {
		return fail("delete task: %v", err)
	}
	if _, _, err := overlay.Flush(ctx, h.store); err != nil {
		return fail("flush delete: %v", err)
	}
	return ok(DeleteTaskResult{Deleted: true, Removed: removed})
}
