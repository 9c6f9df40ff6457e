// Package debug provides environment-gated diagnostic logging. Output is
// off by default and enabled by ASTROTASK_DEBUG or programmatically via
// SetVerbose (wired to the DB_VERBOSE config knob).
package debug

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("ASTROTASK_DEBUG") != ""
	verboseMode = false
	logMu       sync.Mutex
)

// Enabled reports whether debug logging is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables or disables verbose output at runtime.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// Logf writes a timestamped line to stderr when debug logging is enabled.
func Logf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	fmt.Fprintf(os.Stderr, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}
