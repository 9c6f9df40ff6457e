// Command astro is a small CLI over the astrotask engine, mainly for
// inspecting and poking a database outside the MCP/TUI embedders.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/astrotask/astrotask"
	"github.com/astrotask/astrotask/internal/config"
)

var (
	flagDB      string
	flagVerbose bool

	client *astrotask.Client
)

var rootCmd = &cobra.Command{
	Use:     "astro",
	Short:   "Local-first task tracker for agentic workflows",
	Version: astrotask.Version,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if client != nil {
			if err := client.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: close database: %v\n", err)
			}
			client = nil
		}
	},
}

// FatalError prints to stderr and exits non-zero.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// mustClient opens the database on first use. Commands that must not touch
// the lock (unlock) never call it.
func mustClient(cmd *cobra.Command) *astrotask.Client {
	if client != nil {
		return client
	}
	cfg, err := config.Load()
	if err != nil {
		FatalError("load config: %v", err)
	}
	if flagDB != "" {
		cfg.DatabaseURI = flagDB
	}
	if flagVerbose {
		cfg.Verbose = true
	}
	if cfg.Process == "" {
		cfg.Process = "astro-cli"
	}
	client, err = astrotask.OpenWith(cmd.Context(), *cfg)
	if err != nil {
		FatalError("open database: %v", err)
	}
	return client
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path or URL (default from DATABASE_URI)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(addCmd, listCmd, nextCmd, doneCmd, depCmd, contextCmd, unlockCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
