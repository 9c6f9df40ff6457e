package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// A migration mutates an existing database in place. Migrations must be
// idempotent: the base schema already contains every column, so each one
// probes before altering.
type migration struct {
	version int
	name    string
	run     func(ctx context.Context, db *sql.DB) error
}

var migrations = []migration{
	{1, "prd_context_digest_columns", migratePRDColumns},
	{2, "context_slice_type_index", migrateSliceTypeIndex},
}

// RunMigrations brings an existing database up to the current schema
// version recorded in the metadata table.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.run(ctx, db); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", raw, err)
	}
	return v, nil
}

// migratePRDColumns adds prd and context_digest to databases created before
// those columns joined the base schema.
func migratePRDColumns(ctx context.Context, db *sql.DB) error {
	for _, col := range []string{"prd", "context_digest"} {
		exists, err := columnExists(ctx, db, "tasks", col)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE tasks ADD COLUMN %s TEXT", col)); err != nil {
				return fmt.Errorf("failed to add %s column: %w", col, err)
			}
		}
	}
	return nil
}

func migrateSliceTypeIndex(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_slices_context_type ON context_slices(context_type)`)
	if err != nil {
		return fmt.Errorf("failed to create context_type index: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (exists bool, retErr error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to check schema: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			retErr = errors.Join(retErr, fmt.Errorf("failed to close schema rows: %w", closeErr))
		}
	}()

	for rows.Next() {
		var cid, notnull, pk int
		var name, typ string
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
