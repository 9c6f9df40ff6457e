package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/astrotask/astrotask/internal/storage"
)

// wrapDBError wraps a database error with operation context, mapping driver
// conditions onto the storage sentinel errors.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isConstraintErr(err) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConflict, err)
	}
	if isBusyErr(err) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrBusy, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isConstraintErr detects UNIQUE/CHECK/FOREIGN KEY violations. The ncruces
// driver surfaces these as SQLITE_CONSTRAINT_* errors; match on the message
// to stay decoupled from driver error types.
func isConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "SQLITE_CONSTRAINT")
}

func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
