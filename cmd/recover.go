package cmd

import (
	"fmt"

	"github.com/fadsec-lab/applock/internal/crypto"
)

// Recover redeems a one-time recovery code and resets the vault with a
// new password. The old registry is unrecoverable without the old
// password, so the reset vault starts empty.
func Recover(cfgPath, code string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	grant, err := v.RedeemRecoveryCode(code)
	if err != nil {
		HandleError(err)
	}

	fmt.Println("Recovery code accepted. Choose a new master password.")
	fmt.Println("Note: the existing application registry cannot be recovered and will be reset.")
	password, err := GetPasswordForInit()
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	codes, err := grant.Reset(password)
	if err != nil {
		HandleError(err)
	}

	fmt.Println("Vault reset")
	PrintRecoveryCodes(codes)
}
