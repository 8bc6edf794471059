//go:build windows

package instance

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const mutexName = `Global\applock-monitor`

// Acquire creates a named mutex scoped to the session. The path argument
// is ignored on Windows; the mutex name is fixed. The handle is released
// by the kernel when the process exits.
func Acquire(path string) (*Lease, error) {
	name, err := windows.UTF16PtrFromString(mutexName)
	if err != nil {
		return nil, err
	}

	handle, err := windows.CreateMutex(nil, true, name)
	if err == windows.ERROR_ALREADY_EXISTS {
		if handle != 0 {
			windows.CloseHandle(handle)
		}
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create mutex: %w", err)
	}

	return &Lease{release: func() error {
		if err := windows.ReleaseMutex(handle); err != nil {
			return err
		}
		return windows.CloseHandle(handle)
	}}, nil
}
