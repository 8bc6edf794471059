package cmd

import (
	"fmt"

	"github.com/fadsec-lab/applock/internal/crypto"
	"github.com/fadsec-lab/applock/internal/keyring"
)

// Passwd changes the master password. The record is rewritten atomically
// and a fresh backup copy is kept; a wrong old password leaves everything
// untouched.
func Passwd(cfgPath string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	old, err := ReadPassword("Enter current password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(old)

	if err := v.Verify(old); err != nil {
		HandleError(err)
	}

	fmt.Println("Choose the new password.")
	newPassword, err := ReadPasswordConfirm()
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(newPassword)

	if err := v.ChangePassword(old, newPassword); err != nil {
		HandleError(err)
	}

	// A stale keyring entry would lock the monitor out on its next start.
	if keyring.HasPassword(v.Path()) {
		if err := keyring.SavePassword(v.Path(), string(newPassword)); err != nil {
			fmt.Printf("Warning: failed to update keyring entry: %s\n", err)
		}
	}

	fmt.Println("Password changed")
}
