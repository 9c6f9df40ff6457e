// Package config loads engine configuration once, at facade construction.
// Values come from an optional astrotask.yaml plus environment variables;
// the environment wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved configuration. It is built once and passed down;
// packages never read the environment themselves.
type Config struct {
	// DatabaseURI selects the store backend and location. Accepts a bare
	// path, :memory:, or a URL (sqlite://, memory://, pglite-file://, ...).
	DatabaseURI string `mapstructure:"database_uri"`

	// Verbose turns on debug logging (same effect as ASTROTASK_DEBUG).
	Verbose bool `mapstructure:"db_verbose"`

	// Encrypted is accepted for compatibility with deployments that layer
	// filesystem encryption; the embedded engine ignores it.
	Encrypted bool `mapstructure:"db_encrypted"`

	// Process names this process in the database lock file.
	Process string `mapstructure:"process"`

	// Telemetry enables OTel tracing/metrics export.
	Telemetry bool `mapstructure:"telemetry"`

	// OTLPEndpoint, when set, exports telemetry over OTLP/gRPC instead of
	// stdout.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// DefaultDatabasePath is used when DATABASE_URI is not set.
func DefaultDatabasePath() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".astrotask", "astrotask.db")
	}
	return "astrotask.db"
}

// Load reads configuration from astrotask.yaml (working directory, then
// ~/.config/astrotask/) and the environment. Missing config files are fine;
// malformed ones are not.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("astrotask")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "astrotask"))
	}

	v.SetDefault("database_uri", DefaultDatabasePath())
	v.SetDefault("db_verbose", false)
	v.SetDefault("db_encrypted", false)
	v.SetDefault("process", filepath.Base(os.Args[0]))
	v.SetDefault("telemetry", false)
	v.SetDefault("otlp_endpoint", "")

	// DATABASE_URI, DB_VERBOSE, DB_ENCRYPTED, ASTROTASK_OTLP_ENDPOINT, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"database_uri", "db_verbose", "db_encrypted", "telemetry"} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	if err := v.BindEnv("otlp_endpoint", "ASTROTASK_OTLP_ENDPOINT"); err != nil {
		return nil, fmt.Errorf("failed to bind otlp_endpoint: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
