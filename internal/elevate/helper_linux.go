//go:build linux

package elevate

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fsImmutableFL is FS_IMMUTABLE_FL from <linux/fs.h>; x/sys/unix does
// not export the FS_*_FL attribute flags.
const fsImmutableFL = 0x00000010

// protectPath sets the ext immutable flag on the file. The file then
// cannot be modified, renamed or deleted, even by its owner, until the
// flag is cleared with the same privilege.
func protectPath(path string) error {
	return setImmutable(path, true)
}

// unprotectPath clears the immutable flag. Clearing an already-clear
// flag is a successful no-op, which keeps unprotect idempotent.
func unprotectPath(path string) error {
	return setImmutable(path, false)
}

func setImmutable(path string, on bool) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	flags, err := unix.IoctlGetInt(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return fmt.Errorf("FS_IOC_GETFLAGS: %w", err)
	}

	if on {
		if flags&fsImmutableFL != 0 {
			return nil
		}
		flags |= fsImmutableFL
	} else {
		if flags&fsImmutableFL == 0 {
			return nil
		}
		flags &^= fsImmutableFL
	}

	if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.FS_IOC_SETFLAGS, flags); err != nil {
		return fmt.Errorf("FS_IOC_SETFLAGS: %w", err)
	}
	return nil
}

// setToolDisabled has no Linux implementation: there is no per-user
// policy switch for system tools comparable to the Windows Task Manager
// policy. The per-path result carries the refusal.
func setToolDisabled(tool string, disabled bool) error {
	return errors.New("system tool policies are not supported on linux")
}
