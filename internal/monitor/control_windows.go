//go:build windows

package monitor

import (
	"golang.org/x/sys/windows"
)

// terminateController gates processes on Windows. There is no clean
// suspend primitive in the syscall surface we use, so a pending group's
// processes are terminated outright and relaunch after a successful
// unlock; Resume is then a no-op. CanSuspend is false so the monitor
// keeps the prompt open even though every member is already gone.
type terminateController struct{}

func newController() controller {
	return &terminateController{}
}

func (terminateController) CanSuspend() bool { return false }

func (c terminateController) Suspend(pid int) error {
	return c.Terminate(pid)
}

func (terminateController) Resume(pid int) error {
	return nil
}

func (terminateController) Terminate(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		if err == windows.ERROR_INVALID_PARAMETER {
			return nil // already gone
		}
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}
