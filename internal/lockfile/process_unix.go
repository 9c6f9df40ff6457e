//go:build unix

package lockfile

import "golang.org/x/sys/unix"

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false // 0 would signal our process group, not a specific process
	}
	return unix.Kill(pid, 0) == nil
}
