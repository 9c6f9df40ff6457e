package tasktree

import "github.com/astrotask/astrotask/internal/types"

// The With* methods derive a new tree from this one. Nodes on the path to
// the change are re-created; every other branch is shared with the
// original, which stays valid.

// WithTask returns a tree in which the task with the given ID has been
// replaced by update's result. Returns the receiver unchanged when id is
// not in the subtree.
func (n *Tree) WithTask(id string, update func(types.Task) types.Task) *Tree {
	derived, _ := n.rewrite(id, func(node *Tree) *Tree {
		return &Tree{task: update(node.task), children: node.children}
	})
	return derived
}

// WithChildAdded returns a tree with subtree attached under parentID, in
// canonical position among its siblings. Returns the receiver unchanged
// when parentID is not in the subtree.
func (n *Tree) WithChildAdded(parentID string, subtree *Tree) *Tree {
	derived, _ := n.rewrite(parentID, func(node *Tree) *Tree {
		next := &Tree{task: node.task, children: append(node.Children(), subtree)}
		next.sortChildren()
		return next
	})
	return derived
}

// WithChildRemoved returns a tree without the node (and subtree) identified
// by childID. Removing the root is not expressible; the receiver comes back
// unchanged in that case too.
func (n *Tree) WithChildRemoved(childID string) *Tree {
	if n.task.ID == childID {
		return n
	}
	derived, _ := n.removeBelow(childID)
	return derived
}

// rewrite locates id and rebuilds the path from this root down to it,
// applying replace at the target. The bool reports whether id was found.
func (n *Tree) rewrite(id string, replace func(*Tree) *Tree) (*Tree, bool) {
	if n.task.ID == id {
		return replace(n), true
	}
	for i, child := range n.children {
		if derived, found := child.rewrite(id, replace); found {
			children := n.Children()
			children[i] = derived
			next := &Tree{task: n.task, children: children}
			next.sortChildren()
			return next, true
		}
	}
	return n, false
}

func (n *Tree) removeBelow(childID string) (*Tree, bool) {
	for i, child := range n.children {
		if child.task.ID == childID {
			children := n.Children()
			children = append(children[:i], children[i+1:]...)
			return &Tree{task: n.task, children: children}, true
		}
		if derived, found := child.removeBelow(childID); found {
			children := n.Children()
			children[i] = derived
			return &Tree{task: n.task, children: children}, true
		}
	}
	return n, false
}
