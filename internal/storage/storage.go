// Package storage defines the interface for task storage backends.
//
// The concrete embedded implementation lives in the sqlite sub-package.
// This package holds the interface, the error taxonomy, and the database
// URL grammar that are referenced by both the implementation and its
// consumers (facade, scheduler, rpc).
package storage

import (
	"context"

	"github.com/astrotask/astrotask/internal/types"
)

// Storage is the single write path to the database. Consumers depend on
// this interface rather than on the concrete type so that alternative
// implementations (mocks, instrumented wrappers) can be substituted.
type Storage interface {
	// Task CRUD
	//
	// AddTask assigns a canonical ID when the draft's ID is empty, stamps
	// CreatedAt/UpdatedAt, and rejects drafts whose parent does not exist.
	// GetTask returns (nil, nil) when the ID is absent. UpdateTask merges
	// the allowed fields of updates and bumps UpdatedAt; unknown keys are
	// rejected. DeleteTask refuses tasks that still have children or
	// dependents (cascade belongs to the tracking layer).
	AddTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, id string, updates map[string]interface{}) (*types.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status types.Status) (*types.Task, error)
	DeleteTask(ctx context.Context, id string) (bool, error)
	ListTasks(ctx context.Context, filter types.ListFilter) ([]*types.Task, error)

	// Dependencies
	//
	// AddTaskDependency rejects self-edges, missing endpoints, duplicate
	// edges, and edges that would close a cycle (recomputed exactly).
	AddTaskDependency(ctx context.Context, dependentID, dependencyID string) (*types.TaskDependency, error)
	RemoveTaskDependency(ctx context.Context, dependentID, dependencyID string) (bool, error)
	ListTaskDependencies(ctx context.Context) ([]*types.TaskDependency, error)

	// Context slices
	AddContextSlice(ctx context.Context, slice *types.ContextSlice) error
	ListContextSlices(ctx context.Context, taskID string) ([]*types.ContextSlice, error)

	// Reconciliation
	//
	// ExecuteTreeOperations applies a tracking tree's plan atomically,
	// allocating canonical IDs for child_add payloads that carry temp IDs,
	// and returns the resulting subtree plus the temp-to-real mapping.
	// ApplyGraphOperations applies a tracking graph's plan atomically and
	// returns the fresh edge set.
	ExecuteTreeOperations(ctx context.Context, plan *types.TreeReconciliationPlan) (*types.TreeData, types.IDMapping, error)
	ApplyGraphOperations(ctx context.Context, plan *types.GraphReconciliationPlan) ([]*types.TaskDependency, error)

	// Statistics
	Statistics(ctx context.Context) (*types.Statistics, error)

	// Lifecycle. Close releases the advisory lock and the connection;
	// it is idempotent.
	Path() string
	Close() error
}
