package cmd

import (
	"fmt"
	"os"

	"github.com/fadsec-lab/applock/internal/crypto"
	"github.com/fadsec-lab/applock/internal/vault"
)

// Add registers an application in the encrypted registry. The monitor
// picks it up on its next start.
func Add(cfgPath, id, name, path, pattern, group string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	password := GetPasswordOrExit(v, "Enter master password: ")
	defer crypto.ClearBytes(password)

	reg, err := v.Unlock(password)
	if err != nil {
		HandleError(err)
	}

	app := vault.LockedApplication{ID: id, Name: name, Path: path, Pattern: pattern, Group: group}
	if !reg.Add(app) {
		fmt.Fprintf(os.Stderr, "Error: an application with id %q already exists\n", id)
		os.Exit(1)
	}
	if err := v.SaveRegistry(password, reg); err != nil {
		HandleError(err)
	}

	fmt.Printf("Added %s (%s)\n", name, id)
}
