package tracking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/astrotask/astrotask/internal/debug"
	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

type graphJournal struct {
	ops         []types.GraphOperation
	baseVersion int
}

// GraphOverlay layers pending dependency-edge changes over a persisted edge
// set. Edge endpoints may be temporary IDs from an unflushed tree overlay;
// ApplyIDMappings rewrites them after the tree flush assigns real IDs.
type GraphOverlay struct {
	edges   map[string]map[string]bool // dependent -> dependency set, overlay view
	journal *graphJournal
}

// NewGraphOverlay starts a clean overlay over a persisted edge set.
func NewGraphOverlay(edges []*types.TaskDependency) *GraphOverlay {
	o := &GraphOverlay{
		edges:   make(map[string]map[string]bool),
		journal: &graphJournal{},
	}
	for _, e := range edges {
		o.addEdgeView(e.DependentTaskID, e.DependencyTaskID)
	}
	return o
}

func (o *GraphOverlay) addEdgeView(dependent, dependency string) {
	if o.edges[dependent] == nil {
		o.edges[dependent] = make(map[string]bool)
	}
	o.edges[dependent][dependency] = true
}

// cloneEdges copies the outer map and the one inner set about to change.
func (o *GraphOverlay) cloneEdges(touch string) map[string]map[string]bool {
	next := make(map[string]map[string]bool, len(o.edges)+1)
	for k, v := range o.edges {
		next[k] = v
	}
	inner := make(map[string]bool, len(o.edges[touch])+1)
	for k := range o.edges[touch] {
		inner[k] = true
	}
	next[touch] = inner
	return next
}

// BaseVersion identifies the flush generation this overlay was built on.
func (o *GraphOverlay) BaseVersion() int { return o.journal.baseVersion }

// HasPendingChanges reports whether any edge operation awaits a flush.
func (o *GraphOverlay) HasPendingChanges() bool { return len(o.journal.ops) > 0 }

// PendingOperations returns a copy of the journal, for inspection.
func (o *GraphOverlay) PendingOperations() []types.GraphOperation {
	return append([]types.GraphOperation(nil), o.journal.ops...)
}

// HasDependency reports whether the overlay view contains the edge.
func (o *GraphOverlay) HasDependency(dependentID, dependencyID string) bool {
	return o.edges[dependentID][dependencyID]
}

// Dependencies returns the overlay view of what dependentID waits on.
func (o *GraphOverlay) Dependencies(dependentID string) []string {
	var out []string
	for dep := range o.edges[dependentID] {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// WithDependency journals a new edge and applies it to the overlay view.
// Self-edges, duplicates, and edges closing a cycle in the overlay view are
// rejected; the store re-checks all three at flush time.
func (o *GraphOverlay) WithDependency(dependentID, dependencyID string) (*GraphOverlay, error) {
	if dependentID == dependencyID {
		return nil, fmt.Errorf("%w: task %s cannot depend on itself", storage.ErrConflict, dependentID)
	}
	if o.HasDependency(dependentID, dependencyID) {
		return nil, fmt.Errorf("%w: dependency %s -> %s already exists", storage.ErrConflict, dependentID, dependencyID)
	}
	if o.reachable(dependencyID, dependentID) {
		return nil, fmt.Errorf("dependency %s -> %s: %w", dependentID, dependencyID, storage.ErrCycle)
	}

	o.journal.ops = append(o.journal.ops, types.GraphOperation{
		Kind:         types.OpDepAdd,
		DependentID:  dependentID,
		DependencyID: dependencyID,
		Timestamp:    time.Now(),
	})
	next := &GraphOverlay{edges: o.cloneEdges(dependentID), journal: o.journal}
	next.edges[dependentID][dependencyID] = true
	return next, nil
}

// WithoutDependency journals an edge removal. Removing an absent edge is
// rejected so callers notice stale assumptions.
func (o *GraphOverlay) WithoutDependency(dependentID, dependencyID string) (*GraphOverlay, error) {
	if !o.HasDependency(dependentID, dependencyID) {
		return nil, fmt.Errorf("remove dependency %s -> %s: %w", dependentID, dependencyID, storage.ErrNotFound)
	}

	o.journal.ops = append(o.journal.ops, types.GraphOperation{
		Kind:         types.OpDepRemove,
		DependentID:  dependentID,
		DependencyID: dependencyID,
		Timestamp:    time.Now(),
	})
	next := &GraphOverlay{edges: o.cloneEdges(dependentID), journal: o.journal}
	delete(next.edges[dependentID], dependencyID)
	return next, nil
}

// reachable walks overlay edges from start looking for target.
func (o *GraphOverlay) reachable(start, target string) bool {
	if start == target {
		return true
	}
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dep := range o.edges[id] {
			if dep == target {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// ApplyIDMappings rewrites temporary endpoints in both the journal and the
// overlay view after a tree flush assigned real IDs. Unknown temp IDs stay
// as they are; the store rejects them at flush time.
func (o *GraphOverlay) ApplyIDMappings(mapping types.IDMapping) *GraphOverlay {
	if len(mapping) == 0 {
		return o
	}
	resolve := func(id string) string {
		if real, ok := mapping[id]; ok {
			return real
		}
		return id
	}

	for i := range o.journal.ops {
		o.journal.ops[i].DependentID = resolve(o.journal.ops[i].DependentID)
		o.journal.ops[i].DependencyID = resolve(o.journal.ops[i].DependencyID)
	}

	edges := make(map[string]map[string]bool, len(o.edges))
	for dependent, deps := range o.edges {
		inner := make(map[string]bool, len(deps))
		for dep := range deps {
			inner[resolve(dep)] = true
		}
		edges[resolve(dependent)] = inner
	}
	return &GraphOverlay{edges: edges, journal: o.journal}
}

// Plan assembles the edge reconciliation plan. Add/remove pairs on the same
// edge cancel out; surviving operations keep their relative order.
func (o *GraphOverlay) Plan(graphID string) *types.GraphReconciliationPlan {
	return &types.GraphReconciliationPlan{
		GraphID:     graphID,
		BaseVersion: o.journal.baseVersion,
		Operations:  consolidateGraphOps(o.journal.ops),
	}
}

func consolidateGraphOps(ops []types.GraphOperation) []types.GraphOperation {
	type key struct {
		dependent, dependency string
	}
	// Net effect per edge: an even number of flips cancels.
	counts := make(map[key]int, len(ops))
	for _, op := range ops {
		k := key{op.DependentID, op.DependencyID}
		switch op.Kind {
		case types.OpDepAdd:
			counts[k]++
		case types.OpDepRemove:
			counts[k]--
		}
	}

	var out []types.GraphOperation
	emitted := make(map[key]bool, len(counts))
	for _, op := range ops {
		k := key{op.DependentID, op.DependencyID}
		if counts[k] == 0 || emitted[k] {
			continue
		}
		emitted[k] = true
		kind := types.OpDepAdd
		if counts[k] < 0 {
			kind = types.OpDepRemove
		}
		out = append(out, types.GraphOperation{
			Kind:         kind,
			DependentID:  op.DependentID,
			DependencyID: op.DependencyID,
			Timestamp:    op.Timestamp,
		})
	}
	return out
}

// Flush ships pending edge operations to the store and returns a clean
// overlay over the persisted edge set. On failure the receiver keeps its
// journal; the error wraps storage.ReconciliationError.
func (o *GraphOverlay) Flush(ctx context.Context, store storage.Storage, graphID string) (*GraphOverlay, error) {
	if !o.HasPendingChanges() {
		return o, nil
	}

	plan := o.Plan(graphID)
	debug.Logf("tracking: flushing %d graph operations (base version %d)", len(plan.Operations), plan.BaseVersion)
	edges, err := store.ApplyGraphOperations(ctx, plan)
	if err != nil {
		return nil, err
	}

	next := NewGraphOverlay(edges)
	next.journal.baseVersion = o.journal.baseVersion + 1
	return next, nil
}
