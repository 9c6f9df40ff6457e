package storage

import (
	"fmt"
	"strings"
)

// Backend identifies the storage engine a database URL selects.
type Backend string

// Recognised backends
const (
	BackendSQLite     Backend = "sqlite"     // file-backed embedded engine, file lock active
	BackendPGLiteFile Backend = "pglite-file" // embedded engine on a directory, file lock active
	BackendMemory     Backend = "memory"     // in-process ephemeral, no lock
	BackendIDB        Backend = "idb"        // browser-backed, no filesystem lock
	BackendOPFS       Backend = "opfs-ahp"   // browser-backed, no filesystem lock
	BackendPostgres   Backend = "postgresql" // external server, no file lock
)

// DatabaseURL is the parsed form of a database URL.
type DatabaseURL struct {
	Backend Backend
	// Path is the filesystem path for file-backed engines, the label for
	// memory/browser engines, or the full connection string for servers.
	Path string
	Raw  string
}

// FileLocked reports whether the backend shares a database file between
// processes and therefore needs the advisory lock.
func (u DatabaseURL) FileLocked() bool {
	return u.Backend == BackendSQLite || u.Backend == BackendPGLiteFile
}

// Ephemeral reports whether the database lives only in process memory.
func (u DatabaseURL) Ephemeral() bool {
	return u.Backend == BackendMemory
}

// ParseDatabaseURL classifies a database URL per the engine's grammar:
//
//	sqlite://<path> or a bare filesystem path
//	pglite-file://<path>
//	memory://<label> or :memory:
//	idb://<label> / opfs-ahp://<label>
//	postgresql://...
func ParseDatabaseURL(raw string) (DatabaseURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DatabaseURL{}, fmt.Errorf("%w: empty database url", ErrValidation)
	}

	switch {
	case raw == ":memory:":
		return DatabaseURL{Backend: BackendMemory, Path: "default", Raw: raw}, nil
	case strings.HasPrefix(raw, "memory://"):
		label := strings.TrimPrefix(raw, "memory://")
		if label == "" {
			label = "default"
		}
		return DatabaseURL{Backend: BackendMemory, Path: label, Raw: raw}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return DatabaseURL{}, fmt.Errorf("%w: sqlite url missing path", ErrValidation)
		}
		return DatabaseURL{Backend: BackendSQLite, Path: path, Raw: raw}, nil
	case strings.HasPrefix(raw, "pglite-file://"):
		path := strings.TrimPrefix(raw, "pglite-file://")
		if path == "" {
			return DatabaseURL{}, fmt.Errorf("%w: pglite-file url missing path", ErrValidation)
		}
		return DatabaseURL{Backend: BackendPGLiteFile, Path: path, Raw: raw}, nil
	case strings.HasPrefix(raw, "idb://"):
		return DatabaseURL{Backend: BackendIDB, Path: strings.TrimPrefix(raw, "idb://"), Raw: raw}, nil
	case strings.HasPrefix(raw, "opfs-ahp://"):
		return DatabaseURL{Backend: BackendOPFS, Path: strings.TrimPrefix(raw, "opfs-ahp://"), Raw: raw}, nil
	case strings.HasPrefix(raw, "postgresql://"), strings.HasPrefix(raw, "postgres://"):
		return DatabaseURL{Backend: BackendPostgres, Path: raw, Raw: raw}, nil
	case strings.Contains(raw, "://"):
		return DatabaseURL{}, fmt.Errorf("%w: unrecognised database url scheme %q", ErrValidation, raw)
	default:
		// Bare filesystem path.
		return DatabaseURL{Backend: BackendSQLite, Path: raw, Raw: raw}, nil
	}
}
