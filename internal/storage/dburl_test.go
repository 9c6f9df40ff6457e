package storage

import "testing"

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		raw        string
		backend    Backend
		path       string
		fileLocked bool
	}{
		{"sqlite:///tmp/astro.db", BackendSQLite, "/tmp/astro.db", true},
		{"/tmp/astro.db", BackendSQLite, "/tmp/astro.db", true},
		{"tasks.db", BackendSQLite, "tasks.db", true},
		{"pglite-file:///var/lib/astro", BackendPGLiteFile, "/var/lib/astro", true},
		{":memory:", BackendMemory, "default", false},
		{"memory://scratch", BackendMemory, "scratch", false},
		{"memory://", BackendMemory, "default", false},
		{"idb://astro", BackendIDB, "astro", false},
		{"opfs-ahp://astro", BackendOPFS, "astro", false},
		{"postgresql://host/db", BackendPostgres, "postgresql://host/db", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := ParseDatabaseURL(tt.raw)
			if err != nil {
				t.Fatalf("ParseDatabaseURL(%q) error: %v", tt.raw, err)
			}
			if u.Backend != tt.backend {
				t.Errorf("backend = %s, want %s", u.Backend, tt.backend)
			}
			if u.Path != tt.path {
				t.Errorf("path = %q, want %q", u.Path, tt.path)
			}
			if u.FileLocked() != tt.fileLocked {
				t.Errorf("FileLocked() = %v, want %v", u.FileLocked(), tt.fileLocked)
			}
		})
	}
}

func TestParseDatabaseURLRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "sqlite://", "pglite-file://", "ftp://nope"} {
		if _, err := ParseDatabaseURL(raw); err == nil {
			t.Errorf("ParseDatabaseURL(%q) = nil error, want validation error", raw)
		}
	}
}
