package storage

import (
	"errors"
	"fmt"

	"github.com/astrotask/astrotask/internal/types"
)

// Sentinel errors for the engine's error taxonomy. Callers classify with
// errors.Is; richer metadata travels on the dedicated error types below.
var (
	// ErrValidation indicates input that violates the schema or ID format.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a referenced ID is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an operation that would violate an invariant:
	// duplicate ID, self-dependency, delete with surviving children or
	// dependents.
	ErrConflict = errors.New("conflict")

	// ErrCycle indicates a dependency edge that would close a cycle.
	// Cycle errors are conflicts: errors.Is(err, ErrConflict) also holds.
	ErrCycle = fmt.Errorf("%w: dependency cycle detected", ErrConflict)

	// ErrBusy indicates the database's advisory lock is held by another
	// process. The wrapping lockfile.HeldError carries the holder record.
	ErrBusy = errors.New("database is locked by another process")

	// ErrStorage indicates an underlying engine I/O or migration failure.
	ErrStorage = errors.New("storage failure")
)

// ReconciliationError is returned when a flush fails partway. It carries
// the operations that were not applied so the overlay can keep its buffer
// and retry.
type ReconciliationError struct {
	Cause    error
	TreeOps  []types.TreeOperation
	GraphOps []types.GraphOperation
}

func (e *ReconciliationError) Error() string {
	n := len(e.TreeOps) + len(e.GraphOps)
	return fmt.Sprintf("reconciliation failed with %d unapplied operations: %v", n, e.Cause)
}

func (e *ReconciliationError) Unwrap() error { return e.Cause }

// GenerationError wraps failures raised by external task generators; the
// core surfaces them verbatim.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %v", e.Cause) }
func (e *GenerationError) Unwrap() error { return e.Cause }
