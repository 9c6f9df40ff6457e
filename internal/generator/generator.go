// Package generator defines the contract between the task engine and
// external task generators (PRD parsers, LLM planners, importers).
//
// A generator turns free-form content into tracking overlays: a tree
// overlay holding the new subtree with temporary IDs, and a graph overlay
// holding dependency edges between those temporary IDs. The engine owns
// the commit protocol: flush the tree first to mint real IDs, rewrite the
// graph's endpoints with the resulting mapping, then flush the graph.
// Content validation is the generator's problem; the store re-validates
// every resulting operation against its own invariants either way.
package generator

import (
	"context"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/tracking"
	"github.com/astrotask/astrotask/internal/types"
)

// GenerateContext situates generated tasks in an existing project.
type GenerateContext struct {
	// ParentTaskID is where the generated subtree attaches. Empty means
	// the project root.
	ParentTaskID string
	// ExistingTasks is a snapshot the generator may consult to avoid
	// duplicating work that is already tracked.
	ExistingTasks []*types.Task
}

// GenerateInput is the single argument to Generate.
type GenerateInput struct {
	Content  string
	Context  *GenerateContext
	Metadata map[string]string
}

// GenerateResult carries unflushed overlays. Tree is never nil on success;
// Graph may be nil when the generator produced no dependency edges.
type GenerateResult struct {
	Tree  *tracking.TreeOverlay
	Graph *tracking.GraphOverlay
}

// TaskGenerator converts content into pending task operations.
type TaskGenerator interface {
	Generate(ctx context.Context, input GenerateInput) (*GenerateResult, error)
}

// Commit flushes a generation result against the store: tree first, then
// the graph after rewriting temporary endpoints with the minted IDs.
// Returns the temp-to-real mapping so callers can report created IDs.
func Commit(ctx context.Context, store storage.Storage, res *GenerateResult) (types.IDMapping, error) {
	flushed, mapping, err := res.Tree.Flush(ctx, store)
	if err != nil {
		return nil, err
	}
	if res.Graph != nil && res.Graph.HasPendingChanges() {
		graph := res.Graph.ApplyIDMappings(mapping)
		if _, err := graph.Flush(ctx, store, flushed.Tree().ID()); err != nil {
			return mapping, err
		}
	}
	return mapping, nil
}
