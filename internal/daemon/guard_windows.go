//go:build windows

package daemon

import (
	"os"
	"syscall"
)

// alive reports whether the process exists. FindProcess always succeeds
// on Windows, so probe with a zero signal.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
