//go:build !windows

package daemon

import "syscall"

// alive reports whether the process exists. Signal 0 tests existence
// without delivering anything.
func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
