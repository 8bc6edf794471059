//go:build windows

package elevate

import (
	"testing"

	"golang.org/x/sys/windows"
)

func TestComposeHelperArgsRoundTripsSpacedPaths(t *testing.T) {
	argv := []string{
		"elevated-helper",
		"--oneshot", "protect",
		"--out", `C:\Users\John Doe\.applock\result.json`,
		`C:\Users\John Doe\Documents\tax return.pdf`,
	}

	line := composeHelperArgs(argv...)

	got, err := windows.DecomposeCommandLine(line)
	if err != nil {
		t.Fatalf("DecomposeCommandLine: %v", err)
	}
	if len(got) != len(argv) {
		t.Fatalf("got %d args, want %d: %q", len(got), len(argv), got)
	}
	for i := range argv {
		if got[i] != argv[i] {
			t.Errorf("arg %d: got %q, want %q", i, got[i], argv[i])
		}
	}
}
