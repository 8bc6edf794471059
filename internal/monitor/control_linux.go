//go:build linux

package monitor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// signalController gates processes with signals: SIGSTOP while an auth
// prompt is pending, SIGCONT on success, SIGKILL on failure or cancel.
type signalController struct{}

func newController() controller {
	return &signalController{}
}

func (signalController) CanSuspend() bool { return true }

func (signalController) Suspend(pid int) error {
	return unix.Kill(pid, unix.SIGSTOP)
}

func (signalController) Resume(pid int) error {
	return unix.Kill(pid, unix.SIGCONT)
}

// Terminate kills the process tree, children first, so a gated parent
// cannot be survived by workers it already spawned.
func (signalController) Terminate(pid int) error {
	for _, child := range children(pid) {
		unix.Kill(child, unix.SIGKILL) //nolint:errcheck
	}
	err := unix.Kill(pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

// children reads the direct children of pid from /proc. A stopped parent
// cannot reap or spawn, so the list is stable enough for our purposes.
func children(pid int) []int {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "task", strconv.Itoa(pid), "children"))
	if err != nil {
		return nil
	}
	var pids []int
	for _, field := range strings.Fields(string(data)) {
		if child, err := strconv.Atoi(field); err == nil {
			pids = append(pids, child)
		}
	}
	return pids
}
