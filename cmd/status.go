package cmd

import (
	"errors"
	"fmt"

	"github.com/fadsec-lab/applock/internal/instance"
	"github.com/fadsec-lab/applock/internal/state"
)

// Status reports the vault, monitor and file-protection state without
// requiring the master password.
func Status(cfgPath string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	if v.Exists() {
		fmt.Printf("Vault:     initialized (%s)\n", v.Path())
		if remaining, err := v.RemainingCodes(); err == nil {
			fmt.Printf("Recovery:  %d unused codes\n", remaining)
		}
	} else {
		fmt.Println("Vault:     not initialized (run 'applock init')")
	}

	// A failed acquire means a monitor holds the lock right now.
	lease, err := instance.Acquire(cfg.LockPath())
	switch {
	case errors.Is(err, instance.ErrAlreadyRunning):
		fmt.Println("Monitor:   running")
	case err != nil:
		fmt.Printf("Monitor:   unknown (%s)\n", err)
	default:
		lease.Release()
		fmt.Println("Monitor:   stopped")
	}

	store, err := state.Open(cfg.StatePath())
	if err != nil {
		fmt.Printf("State:     unavailable (%s)\n", err)
		return
	}
	defer store.Close()

	records, err := store.ListProtected()
	if err != nil {
		fmt.Printf("Protected: unknown (%s)\n", err)
		return
	}
	protected := 0
	for _, rec := range records {
		if rec.State == state.Protected {
			protected++
			marker := ""
			if rec.Degraded {
				marker = " (degraded: permissions only)"
			}
			fmt.Printf("Protected: %s%s\n", rec.Path, marker)
		}
	}
	if protected == 0 {
		fmt.Println("Protected: no files")
	}

	if crashed, err := store.CrashedSession(); err == nil && crashed && protected > 0 {
		fmt.Println()
		fmt.Println("Warning: the last monitor session did not stop cleanly and files")
		fmt.Println("are still protected. 'applock start' will verify and recover them,")
		fmt.Println("or run 'applock unprotect' to release them now.")
	}
}
