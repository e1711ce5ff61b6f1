// Package daemon guards long-running processes against duplicate
// instances. The mirror database is held on a single SQLite connection
// and sync runs mutate it, so at most one server may own a database
// file at a time.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Guard is a pid-file based single-instance lock.
type Guard struct {
	path string
}

// NewGuard creates a guard backed by the pid file at path.
func NewGuard(path string) *Guard {
	return &Guard{path: path}
}

// Acquire claims the guard for the current process. It fails when the
// pid file names a process that is still alive; a stale file left by a
// crashed process is silently replaced.
func (g *Guard) Acquire() error {
	if pid, running := g.holder(); running {
		return fmt.Errorf("already running (pid %d, pid file %s)", pid, g.path)
	}
	return os.WriteFile(g.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Release removes the pid file. Safe to call when Acquire failed.
func (g *Guard) Release() error {
	err := os.Remove(g.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Holder returns the pid recorded in the file and whether that process
// is currently alive.
func (g *Guard) Holder() (int, bool) {
	return g.holder()
}

func (g *Guard) holder() (int, bool) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, alive(pid)
}
