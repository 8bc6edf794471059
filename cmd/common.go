package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fadsec-lab/applock/internal/config"
	"github.com/fadsec-lab/applock/internal/instance"
	"github.com/fadsec-lab/applock/internal/keyring"
	"github.com/fadsec-lab/applock/internal/vault"
)

// LoadConfigOrExit loads the configuration, exiting with a message when
// it is malformed.
func LoadConfigOrExit(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// OpenVault returns the vault handle for the configured directories.
func OpenVault(cfg config.Config) *vault.Vault {
	return vault.New(cfg.DataDir, cfg.BackupDir)
}

// GetPassword retrieves the master password from the environment, the OS
// keyring, or an interactive prompt, in that order. The caller must
// clear the returned bytes.
func GetPassword(v *vault.Vault, prompt string) ([]byte, error) {
	if password := GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	if cached, err := keyring.GetPassword(v.Path()); err == nil {
		return []byte(cached), nil
	}

	password, err := ReadPassword(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// GetPasswordOrExit is GetPassword exiting on error.
func GetPasswordOrExit(v *vault.Vault, prompt string) []byte {
	password, err := GetPassword(v, prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return password
}

// GetPasswordForInit reads the password for vault creation: environment
// first, otherwise prompt with confirmation.
func GetPasswordForInit() ([]byte, error) {
	if password := GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return ReadPasswordConfirm()
}

// HandleError reports common errors consistently and exits. A lock
// enforcement tool must never fail silently, so every branch prints an
// actionable message.
func HandleError(err error) {
	switch {
	case errors.Is(err, vault.ErrNotInitialized):
		fmt.Fprintf(os.Stderr, "Error: vault not initialized\n")
		fmt.Fprintf(os.Stderr, "Run 'applock init' first\n")
	case errors.Is(err, vault.ErrAlreadyInitialized):
		fmt.Fprintf(os.Stderr, "Error: vault already initialized\n")
		fmt.Fprintf(os.Stderr, "Use 'applock passwd' to change the password, or 'applock recover' with a recovery code\n")
	case errors.Is(err, vault.ErrAuthFailed):
		fmt.Fprintf(os.Stderr, "Error: wrong master password\n")
	case errors.Is(err, vault.ErrInvalidCredential):
		fmt.Fprintf(os.Stderr, "Error: wrong master password; vault left untouched\n")
	case errors.Is(err, vault.ErrInvalidCode):
		fmt.Fprintf(os.Stderr, "Error: invalid or already-used recovery code\n")
	case errors.Is(err, vault.ErrIntegrityCheck):
		fmt.Fprintf(os.Stderr, "Error: vault integrity check failed and the backup copy could not be used\n")
	case errors.Is(err, instance.ErrAlreadyRunning):
		fmt.Fprintf(os.Stderr, "Error: another applock monitor is already running\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}

// PrintRecoveryCodes renders freshly generated recovery codes. Each code
// is single-use and is never shown again.
func PrintRecoveryCodes(codes []string) {
	fmt.Println()
	fmt.Println("Recovery codes (write these down, each works once):")
	for _, code := range codes {
		fmt.Printf("  %s\n", code)
	}
	fmt.Println()
}
