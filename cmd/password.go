package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/fadsec-lab/applock/internal/crypto"
	"golang.org/x/term"
)

// EnvPassword supplies the master password non-interactively.
const EnvPassword = "APPLOCK_PASSWORD"

// ReadPassword reads a password from the terminal without echoing.
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match.
func ReadPasswordConfirm() ([]byte, error) {
	password1, err := ReadPassword("Enter password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, fmt.Errorf("passwords do not match")
	}

	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// GetPasswordFromEnv reads the password from APPLOCK_PASSWORD. Returns a
// copy so callers can clear it independently.
func GetPasswordFromEnv() []byte {
	password := os.Getenv(EnvPassword)
	if password == "" {
		return nil
	}
	result := make([]byte, len(password))
	copy(result, password)
	return result
}
