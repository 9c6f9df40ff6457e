// Package depgraph provides an immutable in-memory view of the dependency
// graph: blocking queries, cycle detection, topological ordering, and
// traversal. Mutation happens through tracking overlays and the store; a
// graph is rebuilt from a fresh snapshot after every flush.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/astrotask/astrotask/internal/types"
)

// Graph is a snapshot of tasks and dependency edges. All methods are
// read-only, so a Graph is safe for concurrent use.
type Graph struct {
	tasks        map[string]*types.Task
	dependencies map[string][]string // dependent -> its dependencies
	dependents   map[string][]string // dependency -> its dependents
	edgeCount    int
}

// New builds a graph from a task snapshot and edge list. Edges referring to
// unknown tasks are kept; they block like any other edge until the missing
// task shows up in a later snapshot.
func New(tasks []*types.Task, edges []*types.TaskDependency) *Graph {
	g := &Graph{
		tasks:        make(map[string]*types.Task, len(tasks)),
		dependencies: make(map[string][]string),
		dependents:   make(map[string][]string),
	}
	for _, t := range tasks {
		g.tasks[t.ID] = t
	}
	for _, e := range edges {
		g.dependencies[e.DependentTaskID] = append(g.dependencies[e.DependentTaskID], e.DependencyTaskID)
		g.dependents[e.DependencyTaskID] = append(g.dependents[e.DependencyTaskID], e.DependentTaskID)
		g.edgeCount++
	}
	for id := range g.dependencies {
		sort.Strings(g.dependencies[id])
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}
	return g
}

// Task returns the task snapshot for id, or nil.
func (g *Graph) Task(id string) *types.Task {
	return g.tasks[id]
}

// HasTask reports whether id is part of the snapshot.
func (g *Graph) HasTask(id string) bool {
	_, ok := g.tasks[id]
	return ok
}

// Size returns node and edge counts.
func (g *Graph) Size() (nodes, edges int) {
	return len(g.tasks), g.edgeCount
}

// GetDependencies returns the IDs this task waits on, sorted.
func (g *Graph) GetDependencies(id string) []string {
	return append([]string(nil), g.dependencies[id]...)
}

// GetDependents returns the IDs waiting on this task, sorted.
func (g *Graph) GetDependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// BlockedBy returns the subset of a task's dependencies that are not done.
// A dependency missing from the snapshot counts as not done.
func (g *Graph) BlockedBy(id string) []string {
	var blocking []string
	for _, depID := range g.dependencies[id] {
		dep, ok := g.tasks[depID]
		if !ok || dep.Status != types.StatusDone {
			blocking = append(blocking, depID)
		}
	}
	return blocking
}

// IsBlocked reports whether the task has at least one unmet dependency.
func (g *Graph) IsBlocked(id string) bool {
	for _, depID := range g.dependencies[id] {
		dep, ok := g.tasks[depID]
		if !ok || dep.Status != types.StatusDone {
			return true
		}
	}
	return false
}

// TaskWithDependencies pairs a task with its blocking state, the view the
// scheduler and the RPC surface hand to agents.
type TaskWithDependencies struct {
	Task         *types.Task `json:"task"`
	Dependencies []string    `json:"dependencies"`
	BlockedBy    []string    `json:"blockedBy,omitempty"`
	IsBlocked    bool        `json:"isBlocked"`
}

// Describe builds the dependency view for one task, or nil when the task is
// not in the snapshot.
func (g *Graph) Describe(id string) *TaskWithDependencies {
	task, ok := g.tasks[id]
	if !ok {
		return nil
	}
	blockedBy := g.BlockedBy(id)
	return &TaskWithDependencies{
		Task:         task,
		Dependencies: g.GetDependencies(id),
		BlockedBy:    blockedBy,
		IsBlocked:    len(blockedBy) > 0,
	}
}

// GetBlockedTasks returns every task with at least one unmet dependency,
// in canonical task order.
func (g *Graph) GetBlockedTasks() []*TaskWithDependencies {
	var blocked []*TaskWithDependencies
	for _, task := range g.sortedTasks() {
		if view := g.Describe(task.ID); view != nil && view.IsBlocked {
			blocked = append(blocked, view)
		}
	}
	return blocked
}

// GetExecutableTasks returns pending tasks whose dependencies are all done,
// in canonical task order. The project root is never executable.
func (g *Graph) GetExecutableTasks() []*types.Task {
	var ready []*types.Task
	for _, task := range g.sortedTasks() {
		if task.ID == types.ProjectRootID || task.Status != types.StatusPending {
			continue
		}
		if !g.IsBlocked(task.ID) {
			ready = append(ready, task)
		}
	}
	return ready
}

func (g *Graph) sortedTasks() []*types.Task {
	tasks := make([]*types.Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		tasks = append(tasks, t)
	}
	types.SortTasks(tasks)
	return tasks
}

// WouldCreateCycle reports whether adding dependent -> dependency would
// close a loop, i.e. whether dependent is already reachable from dependency
// along existing edges.
func (g *Graph) WouldCreateCycle(dependentID, dependencyID string) bool {
	if dependentID == dependencyID {
		return true
	}
	found := false
	g.WalkDFS(dependencyID, func(id string) bool {
		if id == dependentID {
			found = true
			return false
		}
		return true
	})
	return found
}

// FindCycles enumerates dependency cycles via DFS with a recursion stack.
// Each cycle is reported once, as the node sequence closing the loop.
func (g *Graph) FindCycles() [][]string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, depID := range g.dependencies[id] {
			switch color[depID] {
			case white:
				visit(depID)
			case gray:
				// Found a back edge: slice the stack from depID to here.
				for i, onStack := range stack {
					if onStack == depID {
						cycle := append([]string(nil), stack[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.sortedIDs() {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TopologicalSort orders every task so dependencies come before dependents.
// Returns an error naming the cycle participants when the graph is cyclic.
func (g *Graph) TopologicalSort() ([]string, error) {
	return g.topoSort(g.sortedIDs())
}

// TopologicalSortSubgraph orders only the given IDs, using the edges of the
// induced subgraph. Unknown IDs are ignored.
func (g *Graph) TopologicalSortSubgraph(ids []string) ([]string, error) {
	included := make(map[string]bool, len(ids))
	var filtered []string
	for _, id := range ids {
		if g.HasTask(id) && !included[id] {
			included[id] = true
			filtered = append(filtered, id)
		}
	}
	sort.Strings(filtered)
	return g.topoSort(filtered)
}

func (g *Graph) topoSort(ids []string) ([]string, error) {
	included := make(map[string]bool, len(ids))
	for _, id := range ids {
		included[id] = true
	}

	var edges []toposort.Edge
	for _, id := range ids {
		hasEdge := false
		for _, depID := range g.dependencies[id] {
			if included[depID] {
				edges = append(edges, toposort.Edge{depID, id})
				hasEdge = true
			}
		}
		if !hasEdge {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		if cycles := g.FindCycles(); len(cycles) > 0 {
			return nil, fmt.Errorf("dependency graph is cyclic (%s): %w", strings.Join(cycles[0], " -> "), err)
		}
		return nil, fmt.Errorf("dependency graph is cyclic: %w", err)
	}

	order := make([]string, 0, len(ids))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// WalkDFS visits tasks reachable from start along dependency edges, depth
// first. The visit callback returns false to stop the walk early. The start
// node itself is not visited.
func (g *Graph) WalkDFS(start string, visit func(id string) bool) {
	seen := map[string]bool{start: true}
	var walk func(id string) bool
	walk = func(id string) bool {
		for _, depID := range g.dependencies[id] {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			if !visit(depID) {
				return false
			}
			if !walk(depID) {
				return false
			}
		}
		return true
	}
	walk(start)
}

// WalkBFS visits tasks reachable from start along dependency edges, breadth
// first. The start node itself is not visited.
func (g *Graph) WalkBFS(start string, visit func(id string) bool) {
	seen := map[string]bool{start: true}
	queue := append([]string(nil), g.dependencies[start]...)
	for _, id := range queue {
		seen[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if !visit(id) {
			return
		}
		for _, depID := range g.dependencies[id] {
			if !seen[depID] {
				seen[depID] = true
				queue = append(queue, depID)
			}
		}
	}
}

// FindShortestPath returns the shortest dependency chain from one task to
// another, endpoints included, or nil when no path exists.
func (g *Graph) FindShortestPath(from, to string) []string {
	if !g.HasTask(from) || !g.HasTask(to) {
		return nil
	}
	if from == to {
		return []string{from}
	}

	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, depID := range g.dependencies[id] {
			if _, visited := prev[depID]; visited {
				continue
			}
			prev[depID] = id
			if depID == to {
				var path []string
				for at := to; at != ""; at = prev[at] {
					path = append([]string{at}, path...)
				}
				return path
			}
			queue = append(queue, depID)
		}
	}
	return nil
}
