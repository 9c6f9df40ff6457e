package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

const taskColumns = `id, parent_id, title, description, status, priority_score, prd, context_digest, created_at, updated_at`

// scanTask reads one task row. Works for both QueryRow and Rows iteration.
func scanTask(scan func(dest ...interface{}) error) (*types.Task, error) {
	var t types.Task
	var parentID, description, prd, contextDigest sql.NullString
	var status string

	err := scan(&t.ID, &parentID, &t.Title, &description, &status,
		&t.PriorityScore, &prd, &contextDigest, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = types.Status(status)
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if description.Valid {
		t.Description = &description.String
	}
	if prd.Valid {
		t.PRD = &prd.String
	}
	if contextDigest.Valid {
		t.ContextDigest = &contextDigest.String
	}
	return &t, nil
}

// getTask fetches a single task on any querier. Returns (nil, nil) when the
// ID is absent.
func getTask(ctx context.Context, q querier, id string) (*types.Task, error) {
	row := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM tasks WHERE id = ?", taskColumns), id)
	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get task", err)
	}
	return task, nil
}

// AddTask inserts a new task. Drafts without an ID get a generated canonical
// ID; drafts without a parent become children of the project root. The task
// is mutated in place with the assigned ID and timestamps.
func (s *Store) AddTask(ctx context.Context, task *types.Task) error {
	if task == nil {
		return fmt.Errorf("%w: task is nil", storage.ErrValidation)
	}
	if task.ParentID == nil && task.ID != types.ProjectRootID {
		root := types.ProjectRootID
		task.ParentID = &root
	}
	task.SetDefaults()
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrValidation, err)
	}
	if task.ID == types.ProjectRootID {
		return fmt.Errorf("%w: cannot add the project root", storage.ErrValidation)
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		parent, err := getTask(ctx, conn, *task.ParentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("add task: parent %s: %w", *task.ParentID, storage.ErrNotFound)
		}

		if task.ID == "" {
			id, err := generateTaskID(ctx, conn, *task.ParentID, task.Title)
			if err != nil {
				return err
			}
			task.ID = id
		} else {
			if err := types.ValidateTaskID(task.ID); err != nil {
				return fmt.Errorf("%w: %w", storage.ErrValidation, err)
			}
			taken, err := taskIDExists(ctx, conn, task.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("add task: id %s already exists: %w", task.ID, storage.ErrConflict)
			}
		}

		now := time.Now()
		task.CreatedAt = now
		task.UpdatedAt = now

		return insertTask(ctx, conn, task)
	})
}

func insertTask(ctx context.Context, q querier, task *types.Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (id, parent_id, title, description, status, priority_score, prd, context_digest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.ParentID, task.Title, task.Description, string(task.Status),
		task.PriorityScore, task.PRD, task.ContextDigest, task.CreatedAt, task.UpdatedAt)
	return wrapDBError("insert task", err)
}

// GetTask retrieves a task by ID. Returns (nil, nil) when not found.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return getTask(ctx, s.db, id)
}

// allowedUpdateFields validates field names in update maps, preventing SQL
// injection through map keys.
var allowedUpdateFields = map[string]bool{
	"title":          true,
	"description":    true,
	"status":         true,
	"priority_score": true,
	"prd":            true,
	"context_digest": true,
	"parent_id":      true,
}

func validateFieldUpdate(key string, value interface{}) error {
	switch key {
	case "title":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("title must be a string")
		}
		if len(s) == 0 || len(s) > types.MaxTitleLen {
			return fmt.Errorf("title must be 1-%d characters (got %d)", types.MaxTitleLen, len(s))
		}
	case "description":
		if value == nil {
			return nil
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("description must be a string or nil")
		}
		if len(s) > types.MaxDescriptionLen {
			return fmt.Errorf("description must be %d characters or less (got %d)", types.MaxDescriptionLen, len(s))
		}
	case "status":
		var status types.Status
		switch v := value.(type) {
		case types.Status:
			status = v
		case string:
			status = types.Status(v)
		default:
			return fmt.Errorf("status must be a string")
		}
		if !status.IsValid() {
			return fmt.Errorf("invalid status: %v", value)
		}
	case "priority_score":
		score, err := intValue(value)
		if err != nil {
			return fmt.Errorf("priority_score: %w", err)
		}
		if score < 0 || score > 100 {
			return fmt.Errorf("priority_score must be between 0 and 100 (got %d)", score)
		}
	case "parent_id":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("parent_id must be a string")
		}
	case "prd", "context_digest":
		if value == nil {
			return nil
		}
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s must be a string or nil", key)
		}
	}
	return nil
}

// intValue coerces numeric update values. JSON decoding produces float64,
// callers in Go pass int.
func intValue(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// UpdateTask applies a partial update and returns the fresh task. Unknown
// keys and invalid values are rejected before any write happens.
func (s *Store) UpdateTask(ctx context.Context, id string, updates map[string]interface{}) (*types.Task, error) {
	if id == types.ProjectRootID {
		return nil, fmt.Errorf("%w: the project root cannot be updated", storage.ErrValidation)
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", storage.ErrValidation)
	}
	for key, value := range updates {
		if !allowedUpdateFields[key] {
			return nil, fmt.Errorf("%w: invalid field for update: %s", storage.ErrValidation, key)
		}
		if err := validateFieldUpdate(key, value); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrValidation, err)
		}
	}

	var updated *types.Task
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		existing, err := getTask(ctx, conn, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("update task %s: %w", id, storage.ErrNotFound)
		}

		if raw, ok := updates["parent_id"]; ok {
			newParent := raw.(string)
			if err := checkReparent(ctx, conn, id, newParent); err != nil {
				return err
			}
		}

		setClauses := []string{"updated_at = ?"}
		args := []interface{}{time.Now()}
		for key, value := range updates {
			if status, ok := value.(types.Status); ok {
				value = string(status)
			}
			setClauses = append(setClauses, fmt.Sprintf("%s = ?", key))
			args = append(args, value)
		}
		args = append(args, id)

		query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?", strings.Join(setClauses, ", ")) // #nosec G201 - column names validated against allow-list
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return wrapDBError("update task", err)
		}

		updated, err = getTask(ctx, conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// checkReparent verifies a parent_id update keeps the tree acyclic: the new
// parent must exist and must not be the task itself or one of its
// descendants.
func checkReparent(ctx context.Context, conn *sql.Conn, id, newParent string) error {
	if newParent == id {
		return fmt.Errorf("%w: task %s cannot be its own parent", storage.ErrConflict, id)
	}
	parent, err := getTask(ctx, conn, newParent)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("reparent: parent %s: %w", newParent, storage.ErrNotFound)
	}

	var isDescendant bool
	err = conn.QueryRowContext(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id FROM tasks WHERE parent_id = ?
			UNION ALL
			SELECT t.id FROM tasks t JOIN subtree s ON t.parent_id = s.id
		)
		SELECT EXISTS(SELECT 1 FROM subtree WHERE id = ?)
	`, id, newParent).Scan(&isDescendant)
	if err != nil {
		return wrapDBError("check reparent cycle", err)
	}
	if isDescendant {
		return fmt.Errorf("%w: cannot move %s under its own descendant %s", storage.ErrConflict, id, newParent)
	}
	return nil
}

// UpdateTaskStatus is a convenience wrapper around UpdateTask.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status types.Status) (*types.Task, error) {
	return s.UpdateTask(ctx, id, map[string]interface{}{"status": status})
}

// DeleteTask removes a single task. It refuses tasks that still have
// children or dependents; callers that want cascades delete bottom-up or go
// through the reconciliation path. Returns false when the task was absent.
func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	if id == types.ProjectRootID {
		return false, fmt.Errorf("%w: the project root cannot be deleted", storage.ErrValidation)
	}

	deleted := false
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		existing, err := getTask(ctx, conn, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}

		var children int
		if err := conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tasks WHERE parent_id = ?`, id).Scan(&children); err != nil {
			return wrapDBError("count children", err)
		}
		if children > 0 {
			return fmt.Errorf("%w: task %s has %d children", storage.ErrConflict, id, children)
		}

		var dependents int
		if err := conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM task_dependencies WHERE dependency_task_id = ?`, id).Scan(&dependents); err != nil {
			return wrapDBError("count dependents", err)
		}
		if dependents > 0 {
			return fmt.Errorf("%w: task %s has %d dependents", storage.ErrConflict, id, dependents)
		}

		// Outgoing edges and context slices go with the task (FK cascade
		// covers both; the explicit delete keeps the intent visible).
		if _, err := conn.ExecContext(ctx,
			`DELETE FROM task_dependencies WHERE dependent_task_id = ?`, id); err != nil {
			return wrapDBError("delete task dependencies", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return wrapDBError("delete task", err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// ListTasks returns tasks matching the filter in canonical child order:
// non-done before done, then priority descending, then creation time.
func (s *Store) ListTasks(ctx context.Context, filter types.ListFilter) ([]*types.Task, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	var where []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if !filter.IncludeProjectRoot {
		where = append(where, "id != ?")
		args = append(args, types.ProjectRootID)
	}

	query := fmt.Sprintf("SELECT %s FROM tasks", taskColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY (status = 'done') ASC, priority_score DESC, created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, wrapDBError("scan task", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
