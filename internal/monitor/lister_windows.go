//go:build windows

package monitor

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// toolhelpLister enumerates processes with a Toolhelp32 snapshot.
type toolhelpLister struct{}

// NewLister returns the platform process lister.
func NewLister() Lister {
	return &toolhelpLister{}
}

func (l *toolhelpLister) Snapshot() ([]Process, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot processes: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var procs []Process
	err = windows.Process32First(snap, &entry)
	for err == nil {
		procs = append(procs, Process{
			PID:  int(entry.ProcessID),
			Name: windows.UTF16ToString(entry.ExeFile[:]),
		})
		err = windows.Process32Next(snap, &entry)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("failed to walk process snapshot: %w", err)
	}
	return procs, nil
}
