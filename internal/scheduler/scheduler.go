// Package scheduler decides which task an agent should work on next. It
// operates on immutable tree and graph snapshots and returns decisions and
// plans; applying them to the store is the facade's job, so scheduling
// logic stays trivially testable.
package scheduler

import (
	"fmt"

	"github.com/astrotask/astrotask/internal/depgraph"
	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/tasktree"
	"github.com/astrotask/astrotask/internal/types"
)

// Scheduler combines the two snapshot views. A task is available when its
// effective status is pending (hierarchy) and every dependency is done
// (graph).
type Scheduler struct {
	tree  *tasktree.Tree
	graph *depgraph.Graph
}

// New builds a scheduler over one consistent snapshot pair.
func New(tree *tasktree.Tree, graph *depgraph.Graph) *Scheduler {
	return &Scheduler{tree: tree, graph: graph}
}

// AvailableTasks returns tasks matching the filter that an agent could pick
// up right now, in canonical order. Unless the filter asks for blocked
// tasks, only effectively-pending tasks with met dependencies qualify.
func (s *Scheduler) AvailableTasks(filter types.TaskFilter) []*types.Task {
	candidates := s.tree.FilterTasks(func(task types.Task, effective types.Status) bool {
		if !filter.IncludeBlocked {
			if effective != types.StatusPending {
				return false
			}
			if s.graph.IsBlocked(task.ID) {
				return false
			}
		}
		return filter.Matches(&task)
	})

	out := make([]*types.Task, len(candidates))
	for i := range candidates {
		out[i] = &candidates[i]
	}
	types.SortTasks(out)
	return out
}

// NextTask returns the highest-ranked available task, or nil when nothing
// is workable. Rank follows the canonical order: priority descending, then
// age, with done tasks excluded by construction.
func (s *Scheduler) NextTask(filter types.TaskFilter) *types.Task {
	available := s.AvailableTasks(filter)
	if len(available) == 0 {
		return nil
	}
	return available[0]
}

// CanStartWork reports why a task cannot be started, or nil when it can:
// the task must exist, be effectively pending, and have no unmet
// dependencies.
func (s *Scheduler) CanStartWork(id string) error {
	effective, ok := s.tree.EffectiveStatus(id)
	if !ok {
		return fmt.Errorf("start work: task %s: %w", id, storage.ErrNotFound)
	}
	if effective != types.StatusPending {
		return fmt.Errorf("%w: task %s is %s, not pending", storage.ErrConflict, id, effective)
	}
	if blocking := s.graph.BlockedBy(id); len(blocking) > 0 {
		return fmt.Errorf("%w: task %s is blocked by %v", storage.ErrConflict, id, blocking)
	}
	return nil
}

// StatusChange is one store write a plan asks for.
type StatusChange struct {
	TaskID string       `json:"taskId"`
	Status types.Status `json:"status"`
}

// StartPlan describes starting work on a task.
type StartPlan struct {
	Changes []StatusChange `json:"changes"`
	Forced  bool           `json:"forced,omitempty"`
}

// PlanStart validates and plans moving a task to in-progress. With force
// set, the blocked/non-pending guards are skipped (the task still has to
// exist and not be done).
func (s *Scheduler) PlanStart(id string, force bool) (*StartPlan, error) {
	if !force {
		if err := s.CanStartWork(id); err != nil {
			return nil, err
		}
		return &StartPlan{Changes: []StatusChange{{TaskID: id, Status: types.StatusInProgress}}}, nil
	}

	node := s.tree.Find(id)
	if node == nil {
		return nil, fmt.Errorf("start work: task %s: %w", id, storage.ErrNotFound)
	}
	if node.Status() == types.StatusDone {
		return nil, fmt.Errorf("%w: task %s is already done", storage.ErrConflict, id)
	}
	return &StartPlan{
		Changes: []StatusChange{{TaskID: id, Status: types.StatusInProgress}},
		Forced:  true,
	}, nil
}

// CompletionPlan describes finishing a task: the status writes to apply,
// the dependents the completion unblocks, and the task the auto-start
// policy moves to in-progress next. When NextTask is set, Changes includes
// the write that starts it.
type CompletionPlan struct {
	Changes   []StatusChange `json:"changes"`
	Unblocked []*types.Task  `json:"unblocked,omitempty"`
	NextTask  *types.Task    `json:"nextTask,omitempty"`
}

// PlanCompletion plans marking a task done. With cascade set, every
// non-terminal descendant is marked done as well; without it, descendants
// merely inherit done-ness through effective status. Unblocked reports
// dependents whose last unmet dependency this completion satisfies.
func (s *Scheduler) PlanCompletion(id string, cascade bool) (*CompletionPlan, error) {
	node := s.tree.Find(id)
	if node == nil {
		return nil, fmt.Errorf("complete task: %s: %w", id, storage.ErrNotFound)
	}
	if node.ID() == types.ProjectRootID {
		return nil, fmt.Errorf("%w: the project root cannot be completed", storage.ErrValidation)
	}
	if node.Status() == types.StatusDone {
		return nil, fmt.Errorf("%w: task %s is already done", storage.ErrConflict, id)
	}

	plan := &CompletionPlan{Changes: []StatusChange{{TaskID: id, Status: types.StatusDone}}}
	doneSet := map[string]bool{id: true}
	if cascade {
		for _, desc := range s.tree.Descendants(id) {
			if !desc.Status.IsTerminal() {
				plan.Changes = append(plan.Changes, StatusChange{TaskID: desc.ID, Status: types.StatusDone})
				doneSet[desc.ID] = true
			}
		}
	}

	plan.Unblocked = s.unblockedBy(doneSet)
	plan.NextTask = s.nextAfter(id, doneSet)
	if plan.NextTask != nil {
		plan.Changes = append(plan.Changes, StatusChange{TaskID: plan.NextTask.ID, Status: types.StatusInProgress})
	}
	return plan, nil
}

// unblockedBy finds tasks that are blocked now but become executable once
// every task in doneSet is done.
func (s *Scheduler) unblockedBy(doneSet map[string]bool) []*types.Task {
	candidates := make(map[string]bool)
	for done := range doneSet {
		for _, dependent := range s.graph.GetDependents(done) {
			candidates[dependent] = true
		}
	}

	var unblocked []*types.Task
	for id := range candidates {
		if doneSet[id] {
			continue
		}
		if effective, ok := s.tree.EffectiveStatus(id); !ok || effective != types.StatusPending {
			continue
		}
		if !s.graph.IsBlocked(id) {
			continue // was never blocked, nothing newly unblocked
		}
		stillBlocked := false
		for _, dep := range s.graph.BlockedBy(id) {
			if !doneSet[dep] {
				stillBlocked = true
				break
			}
		}
		if !stillBlocked {
			unblocked = append(unblocked, s.graph.Task(id))
		}
	}
	types.SortTasks(unblocked)
	return unblocked
}

// nextAfter implements the auto-start policy: prefer work near the
// completed task, widening scope one ancestor at a time before falling back
// to the whole project. Within each scope the canonical order decides.
func (s *Scheduler) nextAfter(completedID string, doneSet map[string]bool) *types.Task {
	startable := func(task types.Task) bool {
		if doneSet[task.ID] {
			return false
		}
		// A descendant of a freshly-done task inherits done-ness.
		for _, ancestor := range s.tree.Path(task.ID) {
			if ancestor.ID() != task.ID && doneSet[ancestor.ID()] {
				return false
			}
		}
		stillBlocked := false
		for _, dep := range s.graph.BlockedBy(task.ID) {
			if !doneSet[dep] {
				stillBlocked = true
				break
			}
		}
		return !stillBlocked
	}

	path := s.tree.Path(completedID)
	// The completed task's ancestors are containers still in flight; they
	// are scopes to search, not candidates.
	ancestors := make(map[string]bool, len(path))
	for _, node := range path {
		ancestors[node.ID()] = true
	}

	// Walk from the completed task's parent up to the root, looking for
	// pending work inside each widening subtree.
	for i := len(path) - 2; i >= 0; i-- {
		scope := path[i]
		var best *types.Task
		scope.WalkDepthFirst(func(n *tasktree.Tree) bool {
			task := n.Task()
			if n.IsRoot() || ancestors[task.ID] {
				return true
			}
			effective, _ := s.tree.EffectiveStatus(task.ID)
			if effective != types.StatusPending || !startable(task) {
				return true
			}
			if best == nil || types.CompareTasks(&task, best) < 0 {
				t := task
				best = &t
			}
			return true
		})
		if best != nil {
			return best
		}
	}
	return nil
}
