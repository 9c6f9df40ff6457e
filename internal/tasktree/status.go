package tasktree

import "github.com/astrotask/astrotask/internal/types"

// EffectiveStatus resolves the status of id as seen by schedulers: terminal
// statuses inherit down the hierarchy with precedence done > archived >
// cancelled, and only when no ancestor is terminal does the task's own
// status apply. The project root contributes nothing. Returns false when id
// is not in the subtree.
func (n *Tree) EffectiveStatus(id string) (types.Status, bool) {
	path := n.Path(id)
	if path == nil {
		return "", false
	}

	var sawArchived, sawCancelled bool
	for _, node := range path[:len(path)-1] {
		if node.IsRoot() {
			continue
		}
		switch node.task.Status {
		case types.StatusDone:
			return types.StatusDone, true
		case types.StatusArchived:
			sawArchived = true
		case types.StatusCancelled:
			sawCancelled = true
		}
	}

	self := path[len(path)-1].task.Status
	switch {
	case self == types.StatusDone:
		return types.StatusDone, true
	case sawArchived || self == types.StatusArchived:
		return types.StatusArchived, true
	case sawCancelled || self == types.StatusCancelled:
		return types.StatusCancelled, true
	}
	return self, true
}

// CanStart reports whether the task could move to in-progress as far as the
// hierarchy is concerned: its effective status must be pending. Dependency
// blocking is the scheduler's business, not the tree's.
func (n *Tree) CanStart(id string) bool {
	status, ok := n.EffectiveStatus(id)
	return ok && status == types.StatusPending
}

// FilterTasks collects tasks in the subtree whose effective status passes
// the predicate, in walk order.
func (n *Tree) FilterTasks(keep func(task types.Task, effective types.Status) bool) []types.Task {
	var out []types.Task
	n.collectEffective(nil, &out, keep)
	return out
}

// collectEffective threads ancestor terminal state down the walk so the
// whole filter pass stays linear instead of re-resolving paths per node.
func (n *Tree) collectEffective(ancestors []types.Status, out *[]types.Task,
	keep func(types.Task, types.Status) bool) {
	if !n.IsRoot() {
		effective := resolveEffective(ancestors, n.task.Status)
		if keep(n.task, effective) {
			*out = append(*out, n.task)
		}
		ancestors = append(ancestors, n.task.Status)
	}
	for _, child := range n.children {
		child.collectEffective(ancestors, out, keep)
	}
}

func resolveEffective(ancestors []types.Status, self types.Status) types.Status {
	if self == types.StatusDone {
		return types.StatusDone
	}
	var sawArchived, sawCancelled bool
	for _, s := range ancestors {
		switch s {
		case types.StatusDone:
			return types.StatusDone
		case types.StatusArchived:
			sawArchived = true
		case types.StatusCancelled:
			sawCancelled = true
		}
	}
	switch {
	case sawArchived || self == types.StatusArchived:
		return types.StatusArchived
	case sawCancelled || self == types.StatusCancelled:
		return types.StatusCancelled
	}
	return self
}
