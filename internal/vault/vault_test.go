package vault

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "data"), filepath.Join(dir, "backup"))
}

func TestCreateAndUnlock(t *testing.T) {
	v := newTestVault(t)
	password := []byte("P1")

	codes, err := v.Create(password)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(codes) != TotalCodes {
		t.Errorf("Expected %d recovery codes, got %d", TotalCodes, len(codes))
	}

	// Second create must not silently regenerate the record
	if _, err := v.Create(password); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}

	reg, err := v.Unlock(password)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if len(reg.Apps) != 0 {
		t.Errorf("Fresh registry should be empty, got %d apps", len(reg.Apps))
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Create([]byte("correct")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	before, err := os.ReadFile(v.Path())
	if err != nil {
		t.Fatal(err)
	}

	// Repeated wrong verifications never mutate state and always fail
	for i := 0; i < 3; i++ {
		if err := v.Verify([]byte("wrong")); !errors.Is(err, ErrAuthFailed) {
			t.Errorf("attempt %d: expected ErrAuthFailed, got %v", i, err)
		}
	}
	if err := v.Verify([]byte("correct")); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := v.Verify([]byte("wrong")); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong password accepted after correct one: %v", err)
	}

	after, err := os.ReadFile(v.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("Verify mutated the vault record")
	}
}

func TestChangePasswordRoundTrip(t *testing.T) {
	v := newTestVault(t)
	p1, p2 := []byte("P1"), []byte("P2")

	if _, err := v.Create(p1); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	reg, err := v.Unlock(p1)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if !reg.Add(LockedApplication{ID: "calc", Name: "Calculator", Path: "/usr/bin/gnome-calculator"}) {
		t.Fatal("Add failed")
	}
	if err := v.SaveRegistry(p1, reg); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}

	if err := v.ChangePassword(p1, p2); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if err := v.Verify(p1); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Old password still accepted: %v", err)
	}
	if err := v.Verify(p2); err != nil {
		t.Fatalf("New password rejected: %v", err)
	}

	got, err := v.Unlock(p2)
	if err != nil {
		t.Fatalf("Unlock with new password failed: %v", err)
	}
	if len(got.Apps) != 1 || got.Apps[0].ID != "calc" {
		t.Errorf("Registry not preserved across password change: %+v", got.Apps)
	}
	if got.Apps[0].LockState != StateLocked {
		t.Errorf("Loaded app should start locked, got %v", got.Apps[0].LockState)
	}
}

func TestChangePasswordWrongOldLeavesRecordUntouched(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Create([]byte("P1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	before, _ := os.ReadFile(v.Path())

	if err := v.ChangePassword([]byte("nope"), []byte("P2")); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Expected ErrInvalidCredential, got %v", err)
	}

	after, _ := os.ReadFile(v.Path())
	if string(before) != string(after) {
		t.Error("Failed password change mutated the record")
	}
	if err := v.Verify([]byte("P1")); err != nil {
		t.Errorf("Original password no longer works: %v", err)
	}
}

func TestUnlockFallsBackToBackup(t *testing.T) {
	v := newTestVault(t)
	password := []byte("P1")
	if _, err := v.Create(password); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Corrupt the primary record's payload
	data, err := os.ReadFile(v.Path())
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(v.Path(), data, 0600); err != nil {
		t.Fatal(err)
	}

	reg, err := v.Unlock(password)
	if err != nil {
		t.Fatalf("Unlock should have recovered from backup: %v", err)
	}
	if reg == nil {
		t.Fatal("nil registry")
	}

	// The primary should have been healed from the backup
	healed, err := os.ReadFile(v.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(healed) == string(data) {
		t.Error("Primary record was not restored from backup")
	}
}

func TestUnlockBothCopiesCorrupt(t *testing.T) {
	v := newTestVault(t)
	password := []byte("P1")
	if _, err := v.Create(password); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for _, p := range []string{v.Path(), v.BackupPath()} {
		if err := os.WriteFile(p, []byte("garbage"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := v.Unlock(password); !errors.Is(err, ErrIntegrityCheck) {
		t.Errorf("Expected ErrIntegrityCheck, got %v", err)
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Create([]byte("P1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := v.ChangePassword([]byte("P1"), []byte("P2")); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(v.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Leftover temp file: %s", e.Name())
		}
	}
}

func TestRegistryGroupKey(t *testing.T) {
	app := LockedApplication{ID: "cr", Pattern: "Chrome"}
	if app.GroupKey() != "chrome" {
		t.Errorf("GroupKey = %q, want chrome", app.GroupKey())
	}
	app.Group = "Browsers"
	if app.GroupKey() != "browsers" {
		t.Errorf("GroupKey = %q, want browsers", app.GroupKey())
	}
}
