package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

// AddTaskDependency records that dependentID is blocked until dependencyID
// is done. Self-edges, missing endpoints, duplicates, and edges that would
// close a cycle are rejected. The cycle check is exact: it walks the stored
// edge set inside the same transaction as the insert.
func (s *Store) AddTaskDependency(ctx context.Context, dependentID, dependencyID string) (*types.TaskDependency, error) {
	if dependentID == dependencyID {
		return nil, fmt.Errorf("%w: task %s cannot depend on itself", storage.ErrConflict, dependentID)
	}

	var dep *types.TaskDependency
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var err error
		dep, err = addDependency(ctx, conn, dependentID, dependencyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// addDependency performs the checked insert on an open transaction. Shared
// with the graph reconciliation path so both enforce identical invariants.
func addDependency(ctx context.Context, conn *sql.Conn, dependentID, dependencyID string) (*types.TaskDependency, error) {
	if dependentID == dependencyID {
		return nil, fmt.Errorf("%w: task %s cannot depend on itself", storage.ErrConflict, dependentID)
	}

	for _, id := range []string{dependentID, dependencyID} {
		task, err := getTask(ctx, conn, id)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, fmt.Errorf("add dependency: task %s: %w", id, storage.ErrNotFound)
		}
	}

	var exists bool
	err := conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM task_dependencies WHERE dependent_task_id = ? AND dependency_task_id = ?)
	`, dependentID, dependencyID).Scan(&exists)
	if err != nil {
		return nil, wrapDBError("check duplicate dependency", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: dependency %s -> %s already exists", storage.ErrConflict, dependentID, dependencyID)
	}

	// Walk from the proposed dependency: if the dependent is reachable,
	// the new edge would close a cycle. Depth cap guards against runaway
	// recursion on corrupted data.
	var cycleExists bool
	err = conn.QueryRowContext(ctx, `
		WITH RECURSIVE paths AS (
			SELECT dependent_task_id, dependency_task_id, 1 AS depth
			FROM task_dependencies
			WHERE dependent_task_id = ?

			UNION ALL

			SELECT d.dependent_task_id, d.dependency_task_id, p.depth + 1
			FROM task_dependencies d
			JOIN paths p ON d.dependent_task_id = p.dependency_task_id
			WHERE p.depth < 1000
		)
		SELECT EXISTS(SELECT 1 FROM paths WHERE dependency_task_id = ?)
	`, dependencyID, dependentID).Scan(&cycleExists)
	if err != nil {
		return nil, wrapDBError("check dependency cycle", err)
	}
	if cycleExists {
		return nil, fmt.Errorf("dependency %s -> %s: %w", dependentID, dependencyID, storage.ErrCycle)
	}

	dep := &types.TaskDependency{
		ID:               uuid.NewString(),
		DependentTaskID:  dependentID,
		DependencyTaskID: dependencyID,
		CreatedAt:        time.Now(),
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO task_dependencies (id, dependent_task_id, dependency_task_id, created_at)
		VALUES (?, ?, ?, ?)
	`, dep.ID, dep.DependentTaskID, dep.DependencyTaskID, dep.CreatedAt)
	if err != nil {
		return nil, wrapDBError("insert dependency", err)
	}
	return dep, nil
}

// RemoveTaskDependency deletes one edge. Returns false when the edge did
// not exist.
func (s *Store) RemoveTaskDependency(ctx context.Context, dependentID, dependencyID string) (bool, error) {
	removed := false
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			DELETE FROM task_dependencies WHERE dependent_task_id = ? AND dependency_task_id = ?
		`, dependentID, dependencyID)
		if err != nil {
			return wrapDBError("remove dependency", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return wrapDBError("remove dependency", err)
		}
		removed = affected > 0
		return nil
	})
	return removed, err
}

// ListTaskDependencies returns every edge, ordered by creation time.
func (s *Store) ListTaskDependencies(ctx context.Context) ([]*types.TaskDependency, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return listDependencies(ctx, s.db)
}

func listDependencies(ctx context.Context, q querier) ([]*types.TaskDependency, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, dependent_task_id, dependency_task_id, created_at
		FROM task_dependencies
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, wrapDBError("list dependencies", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []*types.TaskDependency
	for rows.Next() {
		var dep types.TaskDependency
		if err := rows.Scan(&dep.ID, &dep.DependentTaskID, &dep.DependencyTaskID, &dep.CreatedAt); err != nil {
			return nil, wrapDBError("scan dependency", err)
		}
		deps = append(deps, &dep)
	}
	return deps, rows.Err()
}
