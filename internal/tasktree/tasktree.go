// Package tasktree provides an immutable view of the task hierarchy.
//
// A Tree node never mutates: the With* methods return new trees that share
// every untouched branch with the original, so snapshots stay valid while
// derived versions circulate. Status semantics down the hierarchy are
// expressed through EffectiveStatus: terminal ancestors override what a
// task says about itself.
package tasktree

import (
	"sort"

	"github.com/astrotask/astrotask/internal/debug"
	"github.com/astrotask/astrotask/internal/types"
)

// Tree is one node of an immutable task hierarchy.
type Tree struct {
	task     types.Task
	children []*Tree
}

// NewNode wraps a single task with no children.
func NewNode(task types.Task) *Tree {
	return &Tree{task: task}
}

// Build assembles a tree from a flat snapshot. The node whose ID equals
// rootID becomes the root; tasks whose parent chain does not reach it are
// dropped (with a debug note), since a mid-flush snapshot can briefly hold
// orphans.
func Build(rootID string, tasks []*types.Task) (*Tree, bool) {
	nodes := make(map[string]*Tree, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &Tree{task: *t}
	}
	root, ok := nodes[rootID]
	if !ok {
		return nil, false
	}

	for _, t := range tasks {
		if t.ID == rootID || t.ParentID == nil {
			continue
		}
		parent, ok := nodes[*t.ParentID]
		if !ok {
			debug.Logf("tasktree: dropping orphan %s (parent %s missing)", t.ID, *t.ParentID)
			continue
		}
		parent.children = append(parent.children, nodes[t.ID])
	}
	root.sortRecursive()
	return root, true
}

// FromTreeData converts a store snapshot into a tree.
func FromTreeData(data *types.TreeData) *Tree {
	if data == nil {
		return nil
	}
	node := &Tree{task: data.Task}
	for _, child := range data.Children {
		node.children = append(node.children, FromTreeData(child))
	}
	node.sortChildren()
	return node
}

// ToTreeData converts the tree back to the plain snapshot form.
func (n *Tree) ToTreeData() *types.TreeData {
	data := &types.TreeData{Task: n.task}
	for _, child := range n.children {
		data.Children = append(data.Children, child.ToTreeData())
	}
	return data
}

func (n *Tree) sortChildren() {
	sort.SliceStable(n.children, func(i, j int) bool {
		return types.CompareTasks(&n.children[i].task, &n.children[j].task) < 0
	})
}

func (n *Tree) sortRecursive() {
	n.sortChildren()
	for _, child := range n.children {
		child.sortRecursive()
	}
}

// Task returns a copy of the node's task.
func (n *Tree) Task() types.Task { return n.task }

// ID returns the node's task ID.
func (n *Tree) ID() string { return n.task.ID }

// Status returns the node's own status, ignoring ancestors.
func (n *Tree) Status() types.Status { return n.task.Status }

// Children returns the node's children in canonical order. The slice is a
// copy; the nodes are shared.
func (n *Tree) Children() []*Tree {
	return append([]*Tree(nil), n.children...)
}

// IsRoot reports whether this node is the synthetic project root.
func (n *Tree) IsRoot() bool { return n.task.ID == types.ProjectRootID }

// Len counts the nodes in the subtree, this node included.
func (n *Tree) Len() int {
	count := 1
	for _, child := range n.children {
		count += child.Len()
	}
	return count
}

// WalkDepthFirst visits the subtree parents-first. Returning false from the
// callback stops the walk.
func (n *Tree) WalkDepthFirst(visit func(*Tree) bool) bool {
	if !visit(n) {
		return false
	}
	for _, child := range n.children {
		if !child.WalkDepthFirst(visit) {
			return false
		}
	}
	return true
}

// Find locates a node by ID anywhere in the subtree, or nil.
func (n *Tree) Find(id string) *Tree {
	var found *Tree
	n.WalkDepthFirst(func(node *Tree) bool {
		if node.task.ID == id {
			found = node
			return false
		}
		return true
	})
	return found
}

// Path returns the node chain from this root down to id, endpoints
// included, or nil when id is not in the subtree.
func (n *Tree) Path(id string) []*Tree {
	if n.task.ID == id {
		return []*Tree{n}
	}
	for _, child := range n.children {
		if path := child.Path(id); path != nil {
			return append([]*Tree{n}, path...)
		}
	}
	return nil
}

// Descendants returns every task strictly below id, in walk order, or nil
// when id is not in the subtree.
func (n *Tree) Descendants(id string) []types.Task {
	node := n.Find(id)
	if node == nil {
		return nil
	}
	var out []types.Task
	for _, child := range node.children {
		child.WalkDepthFirst(func(d *Tree) bool {
			out = append(out, d.task)
			return true
		})
	}
	return out
}
