// Package keyring caches the master password in the OS keyring so the
// monitor can start unattended after a reboot. Storage is opt-in; the
// vault never touches the keyring itself.
package keyring

import (
	"github.com/zalando/go-keyring"
)

const serviceName = "applock"

// SavePassword stores the master password for a vault in the OS keyring.
func SavePassword(vaultID string, password string) error {
	return keyring.Set(serviceName, vaultID, password)
}

// GetPassword retrieves the cached master password for a vault.
func GetPassword(vaultID string) (string, error) {
	return keyring.Get(serviceName, vaultID)
}

// DeletePassword removes the cached master password for a vault.
func DeletePassword(vaultID string) error {
	return keyring.Delete(serviceName, vaultID)
}

// HasPassword reports whether a password is cached for a vault.
func HasPassword(vaultID string) bool {
	_, err := keyring.Get(serviceName, vaultID)
	return err == nil
}
