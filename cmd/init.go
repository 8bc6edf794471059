package cmd

import (
	"fmt"

	"github.com/fadsec-lab/applock/internal/crypto"
)

// Init creates the vault with an empty application registry and prints
// the one-time recovery codes.
func Init(cfgPath string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	password, err := GetPasswordForInit()
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	codes, err := v.Create(password)
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("Vault created at %s\n", v.Path())
	fmt.Printf("Backup copy at %s\n", v.BackupPath())
	PrintRecoveryCodes(codes)
}
