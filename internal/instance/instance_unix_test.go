//go:build unix

package instance

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.lock")

	lease, err := Acquire(path)
	if err != nil {
		t.Fatalf("First Acquire failed: %v", err)
	}

	if _, err := Acquire(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Second Acquire should fail with ErrAlreadyRunning, got %v", err)
	}

	if err := lease.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Released lock can be re-acquired
	lease2, err := Acquire(path)
	if err != nil {
		t.Fatalf("Re-acquire after release failed: %v", err)
	}
	lease2.Release()
}

func TestReleaseNilLease(t *testing.T) {
	var lease *Lease
	if err := lease.Release(); err != nil {
		t.Errorf("Release on nil lease should be a no-op, got %v", err)
	}
}
