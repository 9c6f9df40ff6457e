// Package tracking provides write overlays over the immutable tree and
// graph views. An overlay applies mutations locally and journals them as
// pending operations; Flush ships the journal to the store as a
// reconciliation plan and returns a fresh overlay over the persisted state.
// Until then nothing touches the database, so agents can build up whole
// subtrees (under temporary IDs) and commit them in one atomic step.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/astrotask/astrotask/internal/debug"
	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/tasktree"
	"github.com/astrotask/astrotask/internal/types"
)

// treeJournal is shared by every overlay value derived from one flush
// generation: mutations on any derived value land in the same buffer.
type treeJournal struct {
	ops         []types.TreeOperation
	nextTemp    int
	baseVersion int
}

func (j *treeJournal) mintTempID() string {
	id := fmt.Sprintf("%s%d", types.TempIDPrefix, j.nextTemp)
	j.nextTemp++
	return id
}

// TreeOverlay pairs a hierarchy snapshot with a journal of pending
// operations. Values are cheap to derive; the journal is shared.
type TreeOverlay struct {
	tree    *tasktree.Tree
	journal *treeJournal
}

// NewTreeOverlay starts a clean overlay over a snapshot.
func NewTreeOverlay(tree *tasktree.Tree) *TreeOverlay {
	return &TreeOverlay{tree: tree, journal: &treeJournal{}}
}

// Tree returns the overlay's current view, local mutations included.
func (o *TreeOverlay) Tree() *tasktree.Tree { return o.tree }

// BaseVersion identifies the flush generation this overlay was built on.
func (o *TreeOverlay) BaseVersion() int { return o.journal.baseVersion }

// HasPendingChanges reports whether any operation is waiting for a flush.
func (o *TreeOverlay) HasPendingChanges() bool { return len(o.journal.ops) > 0 }

// PendingOperations returns a copy of the journal, for inspection.
func (o *TreeOverlay) PendingOperations() []types.TreeOperation {
	return append([]types.TreeOperation(nil), o.journal.ops...)
}

// AddChild attaches a draft task under parentID, which may itself be a
// temporary ID from an earlier AddChild. A draft without an ID gets a
// temporary one; the assigned ID is returned. The draft becomes visible in
// the overlay's tree immediately.
func (o *TreeOverlay) AddChild(parentID string, draft types.Task) (*TreeOverlay, string, error) {
	if o.tree.Find(parentID) == nil {
		return nil, "", fmt.Errorf("add child: parent %s: %w", parentID, storage.ErrNotFound)
	}

	if draft.ID == "" {
		draft.ID = o.journal.mintTempID()
	} else if !types.IsTempID(draft.ID) {
		if err := types.ValidateTaskID(draft.ID); err != nil {
			return nil, "", fmt.Errorf("%w: %w", storage.ErrValidation, err)
		}
		if o.tree.Find(draft.ID) != nil {
			return nil, "", fmt.Errorf("add child: id %s already exists: %w", draft.ID, storage.ErrConflict)
		}
	}
	parent := parentID
	draft.ParentID = &parent
	draft.SetDefaults()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}
	if err := draft.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %w", storage.ErrValidation, err)
	}

	o.journal.ops = append(o.journal.ops, types.TreeOperation{
		Kind:      types.OpChildAdd,
		ParentID:  parentID,
		Child:     &types.TreeData{Task: draft},
		Timestamp: time.Now(),
	})
	next := o.tree.WithChildAdded(parentID, tasktree.NewNode(draft))
	return &TreeOverlay{tree: next, journal: o.journal}, draft.ID, nil
}

// RemoveChild detaches the subtree rooted at id from the overlay and
// journals the removal. The project root cannot be removed.
func (o *TreeOverlay) RemoveChild(id string) (*TreeOverlay, error) {
	if id == types.ProjectRootID {
		return nil, fmt.Errorf("%w: the project root cannot be removed", storage.ErrValidation)
	}
	node := o.tree.Find(id)
	if node == nil {
		return nil, fmt.Errorf("remove child: task %s: %w", id, storage.ErrNotFound)
	}
	task := node.Task()
	parentID := types.ProjectRootID
	if task.ParentID != nil {
		parentID = *task.ParentID
	}

	o.journal.ops = append(o.journal.ops, types.TreeOperation{
		Kind:      types.OpChildRemove,
		ParentID:  parentID,
		ChildID:   id,
		Timestamp: time.Now(),
	})
	return &TreeOverlay{tree: o.tree.WithChildRemoved(id), journal: o.journal}, nil
}

// UpdateTask journals a partial update and applies it to the overlay's
// view. Field keys follow the store's update vocabulary.
func (o *TreeOverlay) UpdateTask(id string, updates map[string]interface{}) (*TreeOverlay, error) {
	if id == types.ProjectRootID {
		return nil, fmt.Errorf("%w: the project root cannot be updated", storage.ErrValidation)
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", storage.ErrValidation)
	}
	if o.tree.Find(id) == nil {
		return nil, fmt.Errorf("update task %s: %w", id, storage.ErrNotFound)
	}

	copied := make(map[string]interface{}, len(updates))
	for k, v := range updates {
		copied[k] = v
	}
	o.journal.ops = append(o.journal.ops, types.TreeOperation{
		Kind:      types.OpTaskUpdate,
		TaskID:    id,
		Updates:   copied,
		Timestamp: time.Now(),
	})
	next := o.tree.WithTask(id, func(task types.Task) types.Task {
		applyUpdates(&task, copied)
		return task
	})
	return &TreeOverlay{tree: next, journal: o.journal}, nil
}

// UpdateStatus is a convenience wrapper around UpdateTask.
func (o *TreeOverlay) UpdateStatus(id string, status types.Status) (*TreeOverlay, error) {
	return o.UpdateTask(id, map[string]interface{}{"status": status})
}

// applyUpdates mirrors the store's update vocabulary onto an in-memory
// task so the overlay view matches what a flush will persist.
func applyUpdates(task *types.Task, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "title":
			if s, ok := value.(string); ok {
				task.Title = s
			}
		case "description":
			task.Description = optString(value)
		case "status":
			switch v := value.(type) {
			case types.Status:
				task.Status = v
			case string:
				task.Status = types.Status(v)
			}
		case "priority_score":
			switch v := value.(type) {
			case int:
				task.PriorityScore = v
			case int64:
				task.PriorityScore = int(v)
			case float64:
				task.PriorityScore = int(v)
			}
		case "parent_id":
			if s, ok := value.(string); ok {
				task.ParentID = &s
			}
		case "prd":
			task.PRD = optString(value)
		case "context_digest":
			task.ContextDigest = optString(value)
		}
	}
	task.UpdatedAt = time.Now()
}

func optString(value interface{}) *string {
	if value == nil {
		return nil
	}
	if s, ok := value.(string); ok {
		return &s
	}
	return nil
}

// Plan assembles the reconciliation plan for the overlay's root.
// Consecutive updates to the same task are consolidated last-writer-wins
// per field; structural operations are never merged and keep their order.
func (o *TreeOverlay) Plan() *types.TreeReconciliationPlan {
	return &types.TreeReconciliationPlan{
		RootID:      o.tree.ID(),
		BaseVersion: o.journal.baseVersion,
		Operations:  consolidateTreeOps(o.journal.ops),
	}
}

func consolidateTreeOps(ops []types.TreeOperation) []types.TreeOperation {
	var out []types.TreeOperation
	for _, op := range ops {
		if op.Kind == types.OpTaskUpdate && len(out) > 0 {
			last := &out[len(out)-1]
			if last.Kind == types.OpTaskUpdate && last.TaskID == op.TaskID {
				merged := make(map[string]interface{}, len(last.Updates)+len(op.Updates))
				for k, v := range last.Updates {
					merged[k] = v
				}
				for k, v := range op.Updates {
					merged[k] = v
				}
				last.Updates = merged
				last.Timestamp = op.Timestamp
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

// Flush ships pending operations to the store. On success it returns a
// clean overlay over the persisted subtree plus the temp-to-real ID
// mapping. On failure the receiver keeps its journal and remains usable;
// the error wraps storage.ReconciliationError with the unapplied ops.
func (o *TreeOverlay) Flush(ctx context.Context, store storage.Storage) (*TreeOverlay, types.IDMapping, error) {
	if !o.HasPendingChanges() {
		return o, types.IDMapping{}, nil
	}

	plan := o.Plan()
	debug.Logf("tracking: flushing %d tree operations (base version %d)", len(plan.Operations), plan.BaseVersion)
	data, mapping, err := store.ExecuteTreeOperations(ctx, plan)
	if err != nil {
		return nil, nil, err
	}

	next := &TreeOverlay{
		tree: tasktree.FromTreeData(data),
		journal: &treeJournal{
			baseVersion: o.journal.baseVersion + 1,
		},
	}
	return next, mapping, nil
}
