//go:build linux

package elevate

import (
	"net"
	"testing"
)

func TestHandleConnRejectsUnknownVerb(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan bool, 1)
	go func() { done <- handleConn(server, "") }()

	_, err := roundTrip(client, "", Verb("rm -rf"), []string{"/"})
	if err == nil {
		t.Error("Unknown verb should be rejected")
	}
	if shutdown := <-done; shutdown {
		t.Error("Unknown verb must not shut the helper down")
	}
}

func TestHandleConnShutdown(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan bool, 1)
	go func() { done <- handleConn(server, "") }()

	if _, err := roundTrip(client, "", Verb(verbShutdown), nil); err != nil {
		t.Errorf("Shutdown round trip failed: %v", err)
	}
	if shutdown := <-done; !shutdown {
		t.Error("Shutdown control should stop the helper")
	}
}

func TestHandleConnTokenMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go handleConn(server, "expected-token")

	_, err := roundTrip(client, "wrong-token", VerbUnprotect, []string{"/tmp/x"})
	if err == nil {
		t.Error("Bad token should be rejected")
	}
}

func TestApplyVerbReportsPerPath(t *testing.T) {
	// disable-tools is deterministic on linux: unsupported per path.
	results := applyVerb(VerbDisableTools, []string{"taskmgr", "regedit"})
	if len(results) != 2 {
		t.Fatalf("Expected 2 per-path results, got %d", len(results))
	}
	for _, r := range results {
		if r.OK {
			t.Errorf("%s: tool policies should be unsupported on linux", r.Path)
		}
		if r.Message == "" {
			t.Errorf("%s: failure carries no diagnostic message", r.Path)
		}
	}
}

func TestValidVerbClosedSet(t *testing.T) {
	for _, v := range []Verb{VerbProtect, VerbUnprotect, VerbDisableTools, VerbEnableTools} {
		if !validVerb(v) {
			t.Errorf("%q should be valid", v)
		}
	}
	for _, v := range []Verb{"", "chattr", "shutdown", "protect "} {
		if validVerb(v) {
			t.Errorf("%q should be rejected", v)
		}
	}
}
