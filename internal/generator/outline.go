package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/tasktree"
	"github.com/astrotask/astrotask/internal/tracking"
	"github.com/astrotask/astrotask/internal/types"
)

// OutlineGenerator turns an indented bullet list into a task subtree.
// Each "- " bullet becomes a task; two spaces of indentation nest a bullet
// under the nearest shallower one. Non-bullet lines are ignored, so the
// content may be a full markdown document with prose between lists.
//
// It exists as a deterministic reference implementation of TaskGenerator;
// LLM-backed generators plug into the same contract.
type OutlineGenerator struct {
	// Sequential adds a dependency edge from every top-level bullet to the
	// one before it, for content describing ordered phases.
	Sequential bool
}

var _ TaskGenerator = (*OutlineGenerator)(nil)

const outlineIndent = 2

// Generate parses input.Content and returns overlays pending under the
// parent named by input.Context (project root by default).
func (g *OutlineGenerator) Generate(_ context.Context, input GenerateInput) (*GenerateResult, error) {
	titles := parseOutline(input.Content)
	if len(titles) == 0 {
		return nil, &storage.GenerationError{
			Cause: fmt.Errorf("%w: content contains no bullets", storage.ErrValidation),
		}
	}

	parentID := types.ProjectRootID
	var existing []*types.Task
	if input.Context != nil {
		if input.Context.ParentTaskID != "" {
			parentID = input.Context.ParentTaskID
		}
		existing = input.Context.ExistingTasks
	}

	overlay := tracking.NewTreeOverlay(baseTree(existing))
	if overlay.Tree().Find(parentID) == nil {
		return nil, &storage.GenerationError{
			Cause: fmt.Errorf("%w: parent task %s", storage.ErrNotFound, parentID),
		}
	}

	graph := tracking.NewGraphOverlay(nil)
	edges := false

	// Stack of the temp IDs on the path to the current bullet; index is
	// nesting depth, slot 0 is the attachment parent.
	stack := []string{parentID}
	prevTop := ""
	for _, b := range titles {
		depth := b.depth + 1
		if depth > len(stack) {
			depth = len(stack)
		}
		next, tempID, err := overlay.AddChild(stack[depth-1], types.Task{Title: b.title})
		if err != nil {
			return nil, &storage.GenerationError{Cause: err}
		}
		overlay = next
		stack = append(stack[:depth], tempID)

		if b.depth == 0 {
			if g.Sequential && prevTop != "" {
				withDep, err := graph.WithDependency(tempID, prevTop)
				if err != nil {
					return nil, &storage.GenerationError{Cause: err}
				}
				graph = withDep
				edges = true
			}
			prevTop = tempID
		}
	}

	res := &GenerateResult{Tree: overlay}
	if edges {
		res.Graph = graph
	}
	return res, nil
}

type bullet struct {
	depth int
	title string
}

func parseOutline(content string) []bullet {
	var out []bullet
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		marker := ""
		switch {
		case strings.HasPrefix(trimmed, "- "):
			marker = "- "
		case strings.HasPrefix(trimmed, "* "):
			marker = "* "
		default:
			continue
		}
		title := strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
		if title == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))
		out = append(out, bullet{depth: indent / outlineIndent, title: title})
	}
	return out
}

// baseTree assembles the snapshot the new subtree attaches into, seeding
// the synthetic root when the snapshot omits it. Snapshot tasks with no
// recorded parent are attached under the root so a partial ExistingTasks
// slice still yields every task as a valid attachment point.
func baseTree(existing []*types.Task) *tasktree.Tree {
	rootID := types.ProjectRootID
	tasks := make([]*types.Task, 0, len(existing)+1)
	hasRoot := false
	for _, t := range existing {
		if t.ID == rootID {
			hasRoot = true
			tasks = append(tasks, t)
			continue
		}
		if t.ParentID == nil {
			reparented := *t
			reparented.ParentID = &rootID
			tasks = append(tasks, &reparented)
			continue
		}
		tasks = append(tasks, t)
	}
	if !hasRoot {
		root := &types.Task{ID: rootID, Title: "Project Root", Status: types.StatusPending}
		tasks = append([]*types.Task{root}, tasks...)
	}
	tree, _ := tasktree.Build(rootID, tasks)
	return tree
}
