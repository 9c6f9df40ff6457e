package sqlite

import (
	"context"

	"github.com/astrotask/astrotask/internal/types"
)

// Statistics aggregates counts across tasks, edges, and slices. Blocked
// means at least one dependency is not done; ready means pending with no
// unmet dependency. The project root is excluded throughout.
func (s *Store) Statistics(ctx context.Context) (*types.Statistics, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	stats := &types.Statistics{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'in-progress'),
			COUNT(*) FILTER (WHERE status = 'done'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'archived')
		FROM tasks
		WHERE id != ?
	`, types.ProjectRootID).Scan(&stats.TotalTasks, &stats.PendingTasks, &stats.InProgressTasks,
		&stats.DoneTasks, &stats.CancelledTasks, &stats.ArchivedTasks)
	if err != nil {
		return nil, wrapDBError("task statistics", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_dependencies`).Scan(&stats.Dependencies)
	if err != nil {
		return nil, wrapDBError("dependency statistics", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_slices`).Scan(&stats.ContextSlices)
	if err != nil {
		return nil, wrapDBError("slice statistics", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT d.dependent_task_id)
		FROM task_dependencies d
		JOIN tasks dep ON dep.id = d.dependency_task_id
		WHERE dep.status != 'done'
	`).Scan(&stats.BlockedTasks)
	if err != nil {
		return nil, wrapDBError("blocked statistics", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tasks t
		WHERE t.status = 'pending'
		  AND t.id != ?
		  AND NOT EXISTS (
			SELECT 1 FROM task_dependencies d
			JOIN tasks dep ON dep.id = d.dependency_task_id
			WHERE d.dependent_task_id = t.id AND dep.status != 'done'
		  )
	`, types.ProjectRootID).Scan(&stats.ReadyTasks)
	if err != nil {
		return nil, wrapDBError("ready statistics", err)
	}

	return stats, nil
}
