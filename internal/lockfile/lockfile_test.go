package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "astro.db")

	lock, err := Acquire(dbPath, "test")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	h, err := ReadHolder(LockPath(dbPath))
	if err != nil {
		t.Fatalf("ReadHolder failed: %v", err)
	}
	if h.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", h.PID, os.Getpid())
	}
	if h.Process != "test" {
		t.Errorf("holder process = %q, want %q", h.Process, "test")
	}
	if h.Timestamp == 0 {
		t.Error("holder timestamp not set")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(LockPath(dbPath)); !os.IsNotExist(err) {
		t.Error("lock file still present after release")
	}

	// Release must be idempotent.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestAcquireContention(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "astro.db")

	// A live foreign holder: pid 1 is init/systemd on unix and always alive.
	host, _ := os.Hostname()
	foreign := Holder{PID: 1, Host: host, Process: "init", Timestamp: time.Now().UnixMilli()}
	data, _ := json.Marshal(foreign)
	if err := os.WriteFile(LockPath(dbPath), data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Acquire(dbPath, "test")
	if err == nil {
		t.Fatal("expected held error")
	}
	if !errors.Is(err, ErrHeld) {
		t.Errorf("error %v does not wrap ErrHeld", err)
	}
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("error %v is not a HeldError", err)
	}
	if held.Holder.PID != 1 {
		t.Errorf("holder pid = %d, want 1", held.Holder.PID)
	}
}

func TestSecondAcquireSameProcessFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "astro.db")

	lock, err := Acquire(dbPath, "first")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer func() { _ = lock.Release() }()

	// The lock is exclusive even within one process: a second embedder in
	// the same pid must not steal it from the first.
	second, err := Acquire(dbPath, "second")
	if err == nil {
		_ = second.Release()
		t.Fatal("second Acquire in same process succeeded")
	}
	if !errors.Is(err, ErrHeld) {
		t.Errorf("error %v does not wrap ErrHeld", err)
	}

	h, rerr := ReadHolder(LockPath(dbPath))
	if rerr != nil {
		t.Fatal(rerr)
	}
	if h.Process != "first" {
		t.Errorf("holder process = %q after failed acquisition, want %q", h.Process, "first")
	}
}

func TestStaleTakeover(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "astro.db")

	host, _ := os.Hostname()
	// PID well above pid_max is never alive.
	stale := Holder{PID: 1 << 30, Host: host, Process: "crashed", Timestamp: time.Now().Add(-time.Hour).UnixMilli()}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(LockPath(dbPath), data, 0o600); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(dbPath, "test")
	if err != nil {
		t.Fatalf("takeover of stale lock failed: %v", err)
	}
	defer func() { _ = lock.Release() }()

	h, err := ReadHolder(LockPath(dbPath))
	if err != nil {
		t.Fatal(err)
	}
	if h.PID != os.Getpid() {
		t.Errorf("lock file pid = %d after takeover, want %d", h.PID, os.Getpid())
	}
}

func TestCorruptLockFileTakenOver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "astro.db")
	if err := os.WriteFile(LockPath(dbPath), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(dbPath, "test")
	if err != nil {
		t.Fatalf("takeover of corrupt lock failed: %v", err)
	}
	_ = lock.Release()
}

func TestForceUnlock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "astro.db")

	lock, err := Acquire(dbPath, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lock.Release() }()

	evicted, err := ForceUnlock(dbPath)
	if err != nil {
		t.Fatalf("ForceUnlock failed: %v", err)
	}
	if evicted == nil || evicted.PID != os.Getpid() {
		t.Errorf("evicted holder = %+v, want own pid", evicted)
	}

	// No lock file: nothing to evict, no error.
	evicted, err = ForceUnlock(dbPath)
	if err != nil || evicted != nil {
		t.Errorf("ForceUnlock on absent file = %+v, %v", evicted, err)
	}
}
