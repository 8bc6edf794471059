package cmd

import (
	"fmt"
	"os"

	"github.com/fadsec-lab/applock/internal/crypto"
)

// Remove deletes an application from the encrypted registry.
func Remove(cfgPath, id string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	password := GetPasswordOrExit(v, "Enter master password: ")
	defer crypto.ClearBytes(password)

	reg, err := v.Unlock(password)
	if err != nil {
		HandleError(err)
	}

	if !reg.Remove(id) {
		fmt.Fprintf(os.Stderr, "Error: no application with id %q\n", id)
		os.Exit(1)
	}
	if err := v.SaveRegistry(password, reg); err != nil {
		HandleError(err)
	}

	fmt.Printf("Removed %s\n", id)
}
