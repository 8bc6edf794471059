// Package instance enforces OS-level mutual exclusion so that exactly one
// monitor runs per machine. The lock is scoped to the process lifetime
// and released by the kernel on any exit, including crashes, so no
// explicit cleanup is required.
package instance

import "errors"

// ErrAlreadyRunning means another monitor holds the instance lock. The
// caller should surface the existing instance instead of starting a
// second one.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lease represents a held instance lock. Release is optional; the OS
// reclaims the lock when the process exits.
type Lease struct {
	release func() error
}

// Release gives up the lock early, for clean shutdowns.
func (l *Lease) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	return l.release()
}
