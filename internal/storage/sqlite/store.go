// Package sqlite implements the storage interface on an embedded SQLite
// engine. The same code path serves file-backed databases and ephemeral
// in-memory databases used by tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/astrotask/astrotask/internal/debug"
	"github.com/astrotask/astrotask/internal/lockfile"
	"github.com/astrotask/astrotask/internal/storage"
)

// Store implements the storage.Storage interface using SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	url    storage.DatabaseURL
	lock   *lockfile.Lock

	// Serializes write operations. SQLite allows a single writer; taking
	// the mutex up front avoids SQLITE_BUSY churn between our own goroutines.
	writeMu sync.Mutex

	closed atomic.Bool
}

var _ storage.Storage = (*Store)(nil)

// setupWASMCache configures WASM compilation caching so the SQLite engine is
// compiled once per wazero version instead of on every process start.
// Falls back to an in-memory cache when the user cache dir is unavailable.
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "astrotask", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

// Options configure store construction.
type Options struct {
	// Process is the human-readable process description recorded in the
	// lock file (e.g. "astro cli", "mcp-server"). Defaults to the binary name.
	Process string

	// SkipLock disables cooperative file locking. Only safe when the caller
	// holds the lock already or coordinates access some other way.
	SkipLock bool
}

// New opens (or creates) the database identified by rawURL and returns a
// ready store. File-backed databases are protected by a cooperative lock
// file next to the database; a second process gets storage.ErrBusy.
func New(ctx context.Context, rawURL string, opts Options) (*Store, error) {
	url, err := storage.ParseDatabaseURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch url.Backend {
	case storage.BackendSQLite, storage.BackendPGLiteFile, storage.BackendMemory:
		// handled below
	default:
		return nil, fmt.Errorf("%w: backend %q is not supported by this build (supported: sqlite, pglite-file, memory)",
			storage.ErrValidation, url.Backend)
	}

	var connStr string
	isMemory := url.Ephemeral()
	if isMemory {
		// Shared in-memory database. WAL does not work for in-memory
		// databases, so journal mode stays DELETE.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else {
		dir := filepath.Dir(url.Path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = "file:" + url.Path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	var lock *lockfile.Lock
	if url.FileLocked() && !opts.SkipLock {
		process := opts.Process
		if process == "" {
			process = filepath.Base(os.Args[0])
		}
		lock, err = lockfile.Acquire(url.Path, process)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrBusy, err)
		}
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		releaseLock(lock)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isMemory {
		// In-memory databases are per-connection; force a single connection
		// so every statement sees the same data.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			releaseLock(lock)
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		releaseLock(lock)
		return nil, err
	}

	absPath := url.Path
	if !isMemory {
		if absPath, err = filepath.Abs(url.Path); err != nil {
			db.Close()
			releaseLock(lock)
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	debug.Logf("sqlite: opened %s (backend=%s memory=%v locked=%v)", absPath, url.Backend, isMemory, lock != nil)

	return &Store{
		db:     db,
		dbPath: absPath,
		url:    url,
		lock:   lock,
	}, nil
}

func releaseLock(lock *lockfile.Lock) {
	if lock != nil {
		_ = lock.Release()
	}
}

// Close checkpoints the WAL, closes the database, and releases the lock
// file. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	// Checkpoint so writes are not stranded in the WAL between invocations.
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	if s.lock != nil {
		if lerr := s.lock.Release(); err == nil {
			err = lerr
		}
	}
	return err
}

// Path returns the absolute path of the database file, or the raw URL for
// ephemeral databases.
func (s *Store) Path() string {
	return s.dbPath
}

// URL returns the parsed database URL the store was opened with.
func (s *Store) URL() storage.DatabaseURL {
	return s.url
}

// checkClosed guards operations against use-after-close, which with the
// underlying driver can otherwise surface as a confusing panic.
func (s *Store) checkClosed() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", storage.ErrStorage)
	}
	return nil
}
