package types

import "time"

// TreeData is a pure-value snapshot of a task subtree: one task plus its
// ordered children. Tracking overlays embed TreeData in child_add
// operations so a whole unsaved subtree travels inside one operation.
type TreeData struct {
	Task     Task        `json:"task"`
	Children []*TreeData `json:"children,omitempty"`
}

// Walk visits the snapshot depth-first, parents before children.
func (d *TreeData) Walk(visit func(*TreeData)) {
	if d == nil {
		return
	}
	visit(d)
	for _, c := range d.Children {
		c.Walk(visit)
	}
}

// Flatten returns every task in the snapshot in walk order.
func (d *TreeData) Flatten() []*Task {
	var out []*Task
	d.Walk(func(n *TreeData) {
		task := n.Task
		out = append(out, &task)
	})
	return out
}

// TreeOpKind tags a pending tree operation.
type TreeOpKind string

// Tree operation kinds
const (
	OpChildAdd    TreeOpKind = "child_add"
	OpChildRemove TreeOpKind = "child_remove"
	OpTaskUpdate  TreeOpKind = "task_update"
)

// TreeOperation is a buffered mutation recorded by a tracking tree.
// Exactly the fields for its kind are set:
//
//	child_add:    ParentID, Child (subtree, possibly bearing temp IDs)
//	child_remove: ParentID, ChildID
//	task_update:  TaskID, Updates
type TreeOperation struct {
	Kind      TreeOpKind             `json:"kind"`
	ParentID  string                 `json:"parentId,omitempty"`
	ChildID   string                 `json:"childId,omitempty"`
	Child     *TreeData              `json:"child,omitempty"`
	TaskID    string                 `json:"taskId,omitempty"`
	Updates   map[string]interface{} `json:"updates,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// GraphOpKind tags a pending graph operation.
type GraphOpKind string

// Graph operation kinds
const (
	OpDepAdd    GraphOpKind = "dep_add"
	OpDepRemove GraphOpKind = "dep_remove"
)

// GraphOperation is a buffered dependency-edge mutation recorded by a
// tracking graph. Endpoints may be temporary IDs until ApplyIDMappings
// rewrites them.
type GraphOperation struct {
	Kind         GraphOpKind `json:"kind"`
	DependentID  string      `json:"dependentId"`
	DependencyID string      `json:"dependencyId"`
	Timestamp    time.Time   `json:"timestamp"`
}

// TreeReconciliationPlan carries a tracking tree's buffered operations to
// the store. The store applies the plan atomically and returns the
// temp-to-real ID mapping for subtrees it persisted.
type TreeReconciliationPlan struct {
	RootID      string          `json:"rootId"`
	BaseVersion int             `json:"baseVersion"`
	Operations  []TreeOperation `json:"operations"`
}

// GraphReconciliationPlan carries a tracking graph's buffered edge
// operations to the store.
type GraphReconciliationPlan struct {
	GraphID     string           `json:"graphId"`
	BaseVersion int              `json:"baseVersion"`
	Operations  []GraphOperation `json:"operations"`
}

// IDMapping maps temporary IDs minted by an overlay to the canonical IDs
// the store assigned during a flush.
type IDMapping map[string]string
