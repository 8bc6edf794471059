package vault

import (
	"errors"
	"regexp"
	"testing"
)

func TestGenerateCodesFormat(t *testing.T) {
	codes, err := GenerateCodes(TotalCodes)
	if err != nil {
		t.Fatalf("GenerateCodes failed: %v", err)
	}
	if len(codes) != TotalCodes {
		t.Fatalf("Expected %d codes, got %d", TotalCodes, len(codes))
	}

	format := regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
	seen := make(map[string]bool)
	for _, code := range codes {
		if !format.MatchString(code) {
			t.Errorf("Malformed code: %q", code)
		}
		if seen[code] {
			t.Errorf("Duplicate code: %q", code)
		}
		seen[code] = true
	}
}

func TestRedeemRecoveryCode(t *testing.T) {
	v := newTestVault(t)
	codes, err := v.Create([]byte("forgotten"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Codes are case and separator insensitive on entry
	entered := "  " + codes[0][:4] + " " + codes[0][5:]
	grant, err := v.RedeemRecoveryCode(entered)
	if err != nil {
		t.Fatalf("RedeemRecoveryCode failed: %v", err)
	}

	newCodes, err := grant.Reset([]byte("fresh-password"))
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(newCodes) != TotalCodes {
		t.Errorf("Reset returned %d codes, want %d", len(newCodes), TotalCodes)
	}

	if err := v.Verify([]byte("fresh-password")); err != nil {
		t.Errorf("New password rejected after reset: %v", err)
	}
	if err := v.Verify([]byte("forgotten")); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Old password still works after reset: %v", err)
	}
}

func TestRecoveryCodeSingleUse(t *testing.T) {
	v := newTestVault(t)
	codes, err := v.Create([]byte("pw"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := v.RedeemRecoveryCode(codes[1]); err != nil {
		t.Fatalf("First redemption failed: %v", err)
	}
	// The code is invalidated at redemption time, before any reset
	if _, err := v.RedeemRecoveryCode(codes[1]); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Second redemption should fail with ErrInvalidCode, got %v", err)
	}

	remaining, err := v.RemainingCodes()
	if err != nil {
		t.Fatalf("RemainingCodes failed: %v", err)
	}
	if remaining != TotalCodes-1 {
		t.Errorf("Expected %d remaining codes, got %d", TotalCodes-1, remaining)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Create([]byte("pw")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := v.RedeemRecoveryCode("AAAA-BBBB-CCCC-DDDD"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Expected ErrInvalidCode, got %v", err)
	}
}
