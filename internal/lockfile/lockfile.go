// Package lockfile implements the cooperative advisory lock that guards a
// shared database file against concurrent writers from multiple processes
// on the same host.
//
// The lock is a sentinel file next to the database (<dbpath>.lock)
// containing a small JSON holder record. Writers create it with O_EXCL
// semantics; on contention the candidate reads the record, and if the
// holder's pid is still alive on this host the acquisition fails with a
// HeldError carrying the record. A dead holder is deemed stale and the
// lock is taken over.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Suffix appended to the database path to form the lock file path.
const Suffix = ".lock"

// ErrHeld is the sentinel wrapped by HeldError; classify with errors.Is.
var ErrHeld = errors.New("lock held by another process")

// Holder is the JSON record stored in the lock file.
type Holder struct {
	PID       int    `json:"pid"`
	Host      string `json:"host"`
	Process   string `json:"process"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Age returns how long ago the holder record was written.
func (h Holder) Age() time.Duration {
	return time.Since(time.UnixMilli(h.Timestamp))
}

// HeldError reports a live holder blocking acquisition.
type HeldError struct {
	Holder Holder
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock held by pid %d (%s) on %s for %s",
		e.Holder.PID, e.Holder.Process, e.Holder.Host, e.Holder.Age().Round(time.Second))
}

func (e *HeldError) Unwrap() error { return ErrHeld }

// Lock is a held advisory lock. Release is idempotent.
type Lock struct {
	path     string
	holder   Holder
	released bool
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Holder returns the record written for this acquisition.
func (l *Lock) Holder() Holder { return l.holder }

// LockPath derives the sentinel path for a database file.
func LockPath(dbPath string) string {
	return dbPath + Suffix
}

func selfHolder(process string) Holder {
	host, _ := os.Hostname()
	return Holder{
		PID:       os.Getpid(),
		Host:      host,
		Process:   process,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Acquire takes the advisory lock for the database at dbPath. The process
// string names the embedder (cli, tui, rpc-server) and lands in the
// holder record for diagnostics.
//
// A brief exponential backoff absorbs the window where a stale holder's
// file is being replaced by a competing candidate.
func Acquire(dbPath, process string) (*Lock, error) {
	lockPath := LockPath(dbPath)

	var lock *Lock
	op := func() error {
		l, err := tryAcquire(lockPath, process)
		if err != nil {
			var held *HeldError
			if errors.As(err, &held) {
				// Live holder: not retryable.
				return backoff.Permanent(err)
			}
			return err
		}
		lock = l
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = 250 * time.Millisecond
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return lock, nil
}

func tryAcquire(lockPath, process string) (*Lock, error) {
	holder := selfHolder(process)
	data, err := json.Marshal(holder)
	if err != nil {
		return nil, fmt.Errorf("marshal holder record: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err == nil {
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(lockPath)
			return nil, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
		}
		return &Lock{path: lockPath, holder: holder}, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	existing, rerr := ReadHolder(lockPath)
	if rerr == nil && isHolderAlive(existing) {
		return nil, &HeldError{Holder: existing}
	}

	// Stale or unreadable record: take over atomically.
	if err := writeHolder(lockPath, data); err != nil {
		return nil, err
	}
	return &Lock{path: lockPath, holder: holder}, nil
}

// writeHolder replaces the lock file contents via rename so readers never
// observe a partial record.
func writeHolder(lockPath string, data []byte) error {
	tmp := lockPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := os.Rename(tmp, lockPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace lock file: %w", err)
	}
	return nil
}

// ReadHolder parses the holder record from a lock file.
func ReadHolder(lockPath string) (Holder, error) {
	data, err := os.ReadFile(lockPath) // #nosec G304 - path derived from db path
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return Holder{}, fmt.Errorf("parse lock file: %w", err)
	}
	return h, nil
}

// isHolderAlive reports whether the recorded holder still runs on this
// host. Records from other hosts are treated as alive: we cannot probe
// them, and taking over a remote holder's lock would be worse.
func isHolderAlive(h Holder) bool {
	host, _ := os.Hostname()
	if h.Host != "" && h.Host != host {
		return true
	}
	return isProcessRunning(h.PID)
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// ForceUnlock removes the lock file regardless of holder, for operational
// recovery. Returns the evicted holder when a record was present.
func ForceUnlock(dbPath string) (*Holder, error) {
	lockPath := LockPath(dbPath)
	h, err := ReadHolder(lockPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, fmt.Errorf("remove lock file: %w", rmErr)
	}
	if err != nil {
		return nil, nil
	}
	return &h, nil
}
