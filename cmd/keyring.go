package cmd

import (
	"fmt"

	"github.com/fadsec-lab/applock/internal/crypto"
	"github.com/fadsec-lab/applock/internal/keyring"
)

// KeyringSave verifies the master password and caches it in the OS
// keyring so the monitor can start unattended.
func KeyringSave(cfgPath string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	password, err := ReadPassword("Enter master password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	if err := v.Verify(password); err != nil {
		HandleError(err)
	}
	if err := keyring.SavePassword(v.Path(), string(password)); err != nil {
		HandleError(fmt.Errorf("failed to store password in keyring: %w", err))
	}
	fmt.Println("Password stored in OS keyring")
}

// KeyringClear removes the cached master password.
func KeyringClear(cfgPath string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	if !keyring.HasPassword(v.Path()) {
		fmt.Println("No password stored in keyring")
		return
	}
	if err := keyring.DeletePassword(v.Path()); err != nil {
		HandleError(fmt.Errorf("failed to remove password from keyring: %w", err))
	}
	fmt.Println("Password removed from OS keyring")
}
