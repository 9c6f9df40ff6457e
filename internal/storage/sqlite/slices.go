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

// AddContextSlice attaches a titled note to a task. A missing slice ID is
// replaced with a fresh UUID; the slice is mutated in place.
func (s *Store) AddContextSlice(ctx context.Context, slice *types.ContextSlice) error {
	if slice == nil {
		return fmt.Errorf("%w: slice is nil", storage.ErrValidation)
	}
	if err := slice.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrValidation, err)
	}
	if slice.ID == "" {
		slice.ID = uuid.NewString()
	} else if !types.IsValidSliceID(slice.ID) {
		return fmt.Errorf("%w: invalid slice id %q", storage.ErrValidation, slice.ID)
	}
	if slice.ContextType == "" {
		slice.ContextType = "general"
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		task, err := getTask(ctx, conn, slice.TaskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("add context slice: task %s: %w", slice.TaskID, storage.ErrNotFound)
		}

		slice.CreatedAt = time.Now()
		_, err = conn.ExecContext(ctx, `
			INSERT INTO context_slices (id, task_id, title, description, context_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, slice.ID, slice.TaskID, slice.Title, slice.Description, slice.ContextType, slice.CreatedAt)
		return wrapDBError("insert context slice", err)
	})
}

// ListContextSlices returns a task's slices in creation order.
func (s *Store) ListContextSlices(ctx context.Context, taskID string) ([]*types.ContextSlice, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, title, description, context_type, created_at
		FROM context_slices
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, wrapDBError("list context slices", err)
	}
	defer func() { _ = rows.Close() }()

	var slices []*types.ContextSlice
	for rows.Next() {
		var slice types.ContextSlice
		if err := rows.Scan(&slice.ID, &slice.TaskID, &slice.Title, &slice.Description,
			&slice.ContextType, &slice.CreatedAt); err != nil {
			return nil, wrapDBError("scan context slice", err)
		}
		slices = append(slices, &slice)
	}
	return slices, rows.Err()
}
