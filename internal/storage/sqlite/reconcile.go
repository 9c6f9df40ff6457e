package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/astrotask/astrotask/internal/debug"
	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

// ExecuteTreeOperations applies a tracking tree's buffered operations in a
// single transaction. Subtrees arriving with temporary IDs get canonical IDs
// minted here; the returned mapping lets the overlay rewrite its references.
// On any failure the transaction rolls back and the full operation list is
// returned inside a ReconciliationError so the caller can retry.
func (s *Store) ExecuteTreeOperations(ctx context.Context, plan *types.TreeReconciliationPlan) (*types.TreeData, types.IDMapping, error) {
	if plan == nil {
		return nil, nil, fmt.Errorf("%w: plan is nil", storage.ErrValidation)
	}

	mapping := types.IDMapping{}
	resolve := func(id string) string {
		if real, ok := mapping[id]; ok {
			return real
		}
		return id
	}

	var result *types.TreeData
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		for i, op := range plan.Operations {
			if err := applyTreeOp(ctx, conn, op, mapping, resolve); err != nil {
				return fmt.Errorf("operation %d (%s): %w", i, op.Kind, err)
			}
		}

		rootID := resolve(plan.RootID)
		if types.IsTempID(rootID) {
			return fmt.Errorf("plan root %s was never persisted: %w", plan.RootID, storage.ErrNotFound)
		}
		var err error
		result, err = loadTreeData(ctx, conn, rootID)
		return err
	})
	if err != nil {
		debug.Logf("sqlite: tree reconciliation failed: %v", err)
		return nil, nil, &storage.ReconciliationError{Cause: err, TreeOps: plan.Operations}
	}
	return result, mapping, nil
}

func applyTreeOp(ctx context.Context, conn *sql.Conn, op types.TreeOperation,
	mapping types.IDMapping, resolve func(string) string) error {
	switch op.Kind {
	case types.OpChildAdd:
		parentID := resolve(op.ParentID)
		if types.IsTempID(parentID) {
			return fmt.Errorf("parent %s has no mapping: %w", op.ParentID, storage.ErrNotFound)
		}
		parent, err := getTask(ctx, conn, parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("parent %s: %w", parentID, storage.ErrNotFound)
		}
		return insertSubtree(ctx, conn, parentID, op.Child, mapping)

	case types.OpChildRemove:
		childID := resolve(op.ChildID)
		if types.IsTempID(childID) {
			return fmt.Errorf("child %s has no mapping: %w", op.ChildID, storage.ErrNotFound)
		}
		return deleteSubtree(ctx, conn, childID)

	case types.OpTaskUpdate:
		taskID := resolve(op.TaskID)
		if types.IsTempID(taskID) {
			return fmt.Errorf("task %s has no mapping: %w", op.TaskID, storage.ErrNotFound)
		}
		return applyTaskUpdate(ctx, conn, taskID, op.Updates)

	default:
		return fmt.Errorf("%w: unknown tree operation kind %q", storage.ErrValidation, op.Kind)
	}
}

// insertSubtree persists a child_add payload depth-first, parents before
// children, minting canonical IDs for temp-ID nodes as it descends.
func insertSubtree(ctx context.Context, conn *sql.Conn, parentID string,
	node *types.TreeData, mapping types.IDMapping) error {
	if node == nil {
		return fmt.Errorf("%w: child_add carries no subtree", storage.ErrValidation)
	}

	task := node.Task // copy; the plan payload stays untouched
	originalID := task.ID
	task.ParentID = &parentID
	task.SetDefaults()
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrValidation, err)
	}

	switch {
	case originalID == "" || types.IsTempID(originalID):
		id, err := generateTaskID(ctx, conn, parentID, task.Title)
		if err != nil {
			return err
		}
		task.ID = id
		if originalID != "" {
			mapping[originalID] = id
		}
	default:
		if err := types.ValidateTaskID(originalID); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrValidation, err)
		}
		taken, err := taskIDExists(ctx, conn, originalID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("task %s already exists: %w", originalID, storage.ErrConflict)
		}
	}

	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := insertTask(ctx, conn, &task); err != nil {
		return err
	}

	for _, child := range node.Children {
		if err := insertSubtree(ctx, conn, task.ID, child, mapping); err != nil {
			return err
		}
	}
	return nil
}

// deleteSubtree removes a task and all its descendants, deepest first, along
// with every dependency edge incident on a deleted task.
func deleteSubtree(ctx context.Context, conn *sql.Conn, rootID string) error {
	if rootID == types.ProjectRootID {
		return fmt.Errorf("%w: the project root cannot be removed", storage.ErrValidation)
	}

	rows, err := conn.QueryContext(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id, 0 AS depth FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id, s.depth + 1 FROM tasks t JOIN subtree s ON t.parent_id = s.id
		)
		SELECT id FROM subtree ORDER BY depth DESC
	`, rootID)
	if err != nil {
		return wrapDBError("collect subtree", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return wrapDBError("scan subtree", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return wrapDBError("collect subtree", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return fmt.Errorf("task %s: %w", rootID, storage.ErrNotFound)
	}

	for _, id := range ids {
		if _, err := conn.ExecContext(ctx,
			`DELETE FROM task_dependencies WHERE dependent_task_id = ? OR dependency_task_id = ?`, id, id); err != nil {
			return wrapDBError("delete subtree dependencies", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return wrapDBError("delete subtree task", err)
		}
	}
	return nil
}

func applyTaskUpdate(ctx context.Context, conn *sql.Conn, taskID string, updates map[string]interface{}) error {
	if taskID == types.ProjectRootID {
		return fmt.Errorf("%w: the project root cannot be updated", storage.ErrValidation)
	}
	existing, err := getTask(ctx, conn, taskID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}

	setClauses := []string{"updated_at = ?"}
	args := []interface{}{time.Now()}
	for key, value := range updates {
		if !allowedUpdateFields[key] {
			return fmt.Errorf("%w: invalid field for update: %s", storage.ErrValidation, key)
		}
		if err := validateFieldUpdate(key, value); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrValidation, err)
		}
		if status, ok := value.(types.Status); ok {
			value = string(status)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", key))
		args = append(args, value)
	}
	args = append(args, taskID)

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = ?", strings.Join(setClauses, ", ")) // #nosec G201 - column names validated against allow-list
	_, err = conn.ExecContext(ctx, query, args...)
	return wrapDBError("apply task update", err)
}

// loadTreeData reads the subtree rooted at rootID and assembles it with
// children in canonical order.
func loadTreeData(ctx context.Context, q querier, rootID string) (*types.TreeData, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		WITH RECURSIVE subtree AS (
			SELECT %s FROM tasks WHERE id = ?
			UNION ALL
			SELECT %s FROM tasks t JOIN subtree s ON t.parent_id = s.id
		)
		SELECT %s FROM subtree
	`, taskColumns, prefixColumns("t"), taskColumns), rootID)
	if err != nil {
		return nil, wrapDBError("load subtree", err)
	}
	defer func() { _ = rows.Close() }()

	nodes := make(map[string]*types.TreeData)
	var order []string
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, wrapDBError("scan subtree task", err)
		}
		nodes[task.ID] = &types.TreeData{Task: *task}
		order = append(order, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("load subtree", err)
	}

	root, ok := nodes[rootID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", rootID, storage.ErrNotFound)
	}

	for _, id := range order {
		node := nodes[id]
		if id == rootID || node.Task.ParentID == nil {
			continue
		}
		if parent, ok := nodes[*node.Task.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		}
	}
	for _, node := range nodes {
		children := node.Children
		sort.SliceStable(children, func(i, j int) bool {
			return types.CompareTasks(&children[i].Task, &children[j].Task) < 0
		})
	}
	return root, nil
}

// prefixColumns qualifies the task column list with a table alias for use
// in recursive CTE join arms.
func prefixColumns(alias string) string {
	cols := strings.Split(taskColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// ApplyGraphOperations applies a tracking graph's buffered edge operations
// in a single transaction and returns the resulting edge set. Operations
// must arrive with canonical endpoints; a surviving temp ID means the
// overlay flushed its graph before its tree and is reported as a
// reconciliation failure.
func (s *Store) ApplyGraphOperations(ctx context.Context, plan *types.GraphReconciliationPlan) ([]*types.TaskDependency, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: plan is nil", storage.ErrValidation)
	}

	var deps []*types.TaskDependency
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		for i, op := range plan.Operations {
			if types.IsTempID(op.DependentID) || types.IsTempID(op.DependencyID) {
				return fmt.Errorf("operation %d (%s): unmapped temporary id in edge %s -> %s: %w",
					i, op.Kind, op.DependentID, op.DependencyID, storage.ErrValidation)
			}
			switch op.Kind {
			case types.OpDepAdd:
				if _, err := addDependency(ctx, conn, op.DependentID, op.DependencyID); err != nil {
					return fmt.Errorf("operation %d (%s): %w", i, op.Kind, err)
				}
			case types.OpDepRemove:
				if _, err := conn.ExecContext(ctx, `
					DELETE FROM task_dependencies WHERE dependent_task_id = ? AND dependency_task_id = ?
				`, op.DependentID, op.DependencyID); err != nil {
					return fmt.Errorf("operation %d (%s): %w", i, op.Kind, wrapDBError("remove dependency", err))
				}
			default:
				return fmt.Errorf("%w: unknown graph operation kind %q", storage.ErrValidation, op.Kind)
			}
		}

		var err error
		deps, err = listDependencies(ctx, conn)
		return err
	})
	if err != nil {
		debug.Logf("sqlite: graph reconciliation failed: %v", err)
		return nil, &storage.ReconciliationError{Cause: err, GraphOps: plan.Operations}
	}
	return deps, nil
}
