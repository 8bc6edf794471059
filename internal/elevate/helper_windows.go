//go:build windows

package elevate

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const protectedAttrs = windows.FILE_ATTRIBUTE_HIDDEN |
	windows.FILE_ATTRIBUTE_SYSTEM |
	windows.FILE_ATTRIBUTE_READONLY

// protectPath marks the file hidden, system and read-only, which hides
// it from normal views and blocks casual deletion.
func protectPath(path string) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	if err := windows.SetFileAttributes(p, protectedAttrs); err != nil {
		return fmt.Errorf("SetFileAttributes: %w", err)
	}
	return nil
}

// unprotectPath restores normal attributes.
func unprotectPath(path string) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	if err := windows.SetFileAttributes(p, windows.FILE_ATTRIBUTE_NORMAL); err != nil {
		return fmt.Errorf("SetFileAttributes: %w", err)
	}
	return nil
}

const policyKey = `Software\Microsoft\Windows\CurrentVersion\Policies\System`

// setToolDisabled toggles the policy switch for a known system tool.
// Disabling Task Manager and the registry editor keeps a user from
// killing the monitor or hand-editing its protection away.
func setToolDisabled(tool string, disabled bool) error {
	var value string
	switch strings.ToLower(tool) {
	case "taskmgr":
		value = "DisableTaskMgr"
	case "regedit":
		value = "DisableRegistryTools"
	default:
		return fmt.Errorf("unknown system tool %q", tool)
	}

	k, _, err := registry.CreateKey(registry.CURRENT_USER, policyKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open policy key: %w", err)
	}
	defer k.Close()

	if disabled {
		return k.SetDWordValue(value, 1)
	}
	return k.DeleteValue(value)
}
