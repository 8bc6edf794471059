//go:build linux

package elevate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultSocketPath is where the session helper listens. /run is cleared
// on reboot, matching the login-session validity scope.
const DefaultSocketPath = "/run/applock/elevated.sock"

// pkexec exit codes: 126 when the user dismissed the prompt, 127 when
// authorization failed.
const (
	pkexecDismissed    = 126
	pkexecUnauthorized = 127
)

type linuxOps struct {
	socketPath string
	exe        string
}

func newPlatformOps(dataDir string) platformOps {
	exe, err := os.Executable()
	if err != nil {
		exe = "applock"
	}
	_ = dataDir // session state lives under /run on linux
	return &linuxOps{socketPath: DefaultSocketPath, exe: exe}
}

func (o *linuxOps) token() string { return "" }

func (o *linuxOps) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", o.socketPath)
}

// startPersistent launches this executable's helper mode as root via
// pkexec. PolicyKit prompts the user once; the helper then serves every
// later privileged call for the rest of the login session.
func (o *linuxOps) startPersistent(ctx context.Context) error {
	if _, err := exec.LookPath("pkexec"); err != nil {
		return fmt.Errorf("pkexec not found: %w", err)
	}

	cmd := exec.Command("pkexec", o.exe, "elevated-helper", "--socket", o.socketPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch session helper: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	// Wait for the socket to come up while the user answers the prompt.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(60 * time.Second)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-exited:
			return mapPkexecExit(err)
		case <-deadline:
			return errors.New("timed out waiting for session helper")
		case <-ticker.C:
			if conn, err := o.dial(ctx); err == nil {
				conn.Close()
				go func() { <-exited }() // reap the pkexec wrapper eventually
				return nil
			}
		}
	}
}

func (o *linuxOps) perCallAvailable() bool {
	_, err := exec.LookPath("pkexec")
	return err == nil
}

// invokeOneShot raises one elevation prompt for a single call: the
// explicit degraded mode with more user friction.
func (o *linuxOps) invokeOneShot(ctx context.Context, verb Verb, paths []string) ([]PathResult, error) {
	args := append([]string{o.exe, "elevated-helper", "--oneshot", string(verb)}, paths...)
	out, err := exec.CommandContext(ctx, "pkexec", args...).Output()

	var resp response
	if jerr := json.Unmarshal(out, &resp); jerr == nil && resp.OK {
		return resp.Results, nil
	}
	if err != nil {
		return nil, mapPkexecExit(err)
	}
	return resp.Results, fmt.Errorf("helper: %s", resp.Error)
}

func (o *linuxOps) stopPersistent() {
	conn, err := o.dial(context.Background())
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	json.NewEncoder(conn).Encode(&request{Verb: verbShutdown}) //nolint:errcheck
}

func mapPkexecExit(err error) error {
	if err == nil {
		return errors.New("session helper exited before serving")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case pkexecDismissed:
			return ErrElevationDenied
		case pkexecUnauthorized:
			return fmt.Errorf("%w: polkit authorization failed", ErrElevationUnavailable)
		}
	}
	return fmt.Errorf("session helper failed: %w", err)
}

// ServeSession is the root-side entry point: it binds the unix socket and
// serves verbs until shut down. Must run with elevated privileges.
func ServeSession(socketPath string) error {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind helper socket: %w", err)
	}
	defer l.Close()
	defer os.Remove(socketPath)

	// The unprivileged monitor must be able to connect. The verb set is
	// the security boundary, not the socket mode.
	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("failed to chmod helper socket: %w", err)
	}

	return Serve(l, "")
}
