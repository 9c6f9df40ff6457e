package sqlite

import (
	"context"
	"testing"

	"github.com/astrotask/astrotask/internal/types"
)

// newTestStore opens a file-backed store in a per-test temp dir. File-backed
// databases give proper isolation between tests; the shared in-memory
// database would leak state across stores within one process.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := New(ctx, t.TempDir()+"/test.db", Options{Process: "test"})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}

// mustAddTask inserts a pending task under the given parent and returns it.
func mustAddTask(t *testing.T, store *Store, parentID, title string) *types.Task {
	t.Helper()

	task := &types.Task{Title: title}
	if parentID != "" {
		task.ParentID = &parentID
	}
	if err := store.AddTask(context.Background(), task); err != nil {
		t.Fatalf("Failed to add task %q: %v", title, err)
	}
	return task
}
