package monitor

import (
	"path/filepath"
	"strings"

	"github.com/fadsec-lab/applock/internal/vault"
)

// Process is one running process as seen by a scan cycle.
type Process struct {
	PID     int
	Name    string // executable name (comm on linux)
	Path    string // executable path when known, else ""
	Cmdline string
}

// Lister enumerates running processes. The platform implementations read
// /proc or take a Toolhelp32 snapshot; tests substitute a fake.
type Lister interface {
	Snapshot() ([]Process, error)
}

// controller suspends, resumes and terminates matched processes. Split
// out of the Monitor so the state machine is testable without signals.
type controller interface {
	Suspend(pid int) error
	Resume(pid int) error
	Terminate(pid int) error
	// CanSuspend reports whether Suspend actually pauses a process.
	// Platforms without a suspend primitive terminate instead, so a
	// pending group's processes vanishing from the scan is expected
	// there, not a sign the user closed them.
	CanSuspend() bool
}

// Matches reports whether p belongs to app. Matching is case-insensitive
// on the process name, the executable basename, and the configured path.
func Matches(p Process, app *vault.LockedApplication) bool {
	pattern := strings.ToLower(app.Pattern)
	if pattern == "" {
		return false
	}

	name := strings.ToLower(p.Name)
	if name == pattern || strings.Contains(name, pattern) {
		return true
	}
	if p.Path != "" {
		base := strings.ToLower(filepath.Base(p.Path))
		if base == pattern || strings.Contains(base, pattern) {
			return true
		}
		if app.Path != "" && strings.EqualFold(p.Path, app.Path) {
			return true
		}
	}
	return false
}
