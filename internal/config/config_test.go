package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabaseURI == "" {
		t.Error("DatabaseURI default is empty")
	}
	if cfg.Verbose || cfg.Encrypted || cfg.Telemetry {
		t.Errorf("boolean knobs should default off: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URI", "sqlite:///tmp/env.db")
	t.Setenv("DB_VERBOSE", "true")
	t.Setenv("DB_ENCRYPTED", "true")
	t.Setenv("ASTROTASK_OTLP_ENDPOINT", "localhost:4317")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DatabaseURI != "sqlite:///tmp/env.db" {
		t.Errorf("DatabaseURI = %q", cfg.DatabaseURI)
	}
	if !cfg.Verbose {
		t.Error("DB_VERBOSE not honored")
	}
	if !cfg.Encrypted {
		t.Error("DB_ENCRYPTED not honored")
	}
	if cfg.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q", cfg.OTLPEndpoint)
	}
}
