//go:build windows

package elevate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fadsec-lab/applock/internal/crypto"
	"golang.org/x/sys/windows"
)

// helperInfoFile is written by the elevated helper so the unprivileged
// monitor can find and authenticate to it.
const helperInfoFile = "helper.json"

type helperInfo struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
}

type windowsOps struct {
	infoPath    string
	exe         string
	cachedToken string
}

func newPlatformOps(dataDir string) platformOps {
	exe, err := os.Executable()
	if err != nil {
		exe = "applock.exe"
	}
	return &windowsOps{infoPath: filepath.Join(dataDir, helperInfoFile), exe: exe}
}

func (o *windowsOps) token() string { return o.cachedToken }

func (o *windowsOps) dial(ctx context.Context) (net.Conn, error) {
	data, err := os.ReadFile(o.infoPath)
	if err != nil {
		return nil, err
	}
	var info helperInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("malformed helper info: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", info.Addr)
	if err != nil {
		return nil, err
	}
	o.cachedToken = info.Token
	return conn, nil
}

// startPersistent launches the helper elevated via UAC (ShellExecute
// "runas"). One consent dialog; the helper then serves the rest of the
// login session over loopback with a per-launch token.
func (o *windowsOps) startPersistent(ctx context.Context) error {
	verb, _ := windows.UTF16PtrFromString("runas")
	exe, _ := windows.UTF16PtrFromString(o.exe)
	args, _ := windows.UTF16PtrFromString(composeHelperArgs("elevated-helper", "--info", o.infoPath))

	err := windows.ShellExecute(0, verb, exe, args, nil, windows.SW_HIDE)
	if err != nil {
		if errors.Is(err, windows.ERROR_CANCELLED) {
			return ErrElevationDenied
		}
		return fmt.Errorf("failed to launch session helper: %w", err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(60 * time.Second)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.New("timed out waiting for session helper")
		case <-ticker.C:
			if conn, err := o.dial(ctx); err == nil {
				conn.Close()
				return nil
			}
		}
	}
}

// perCallAvailable: UAC is always present; each call raises its own
// consent dialog through a fresh short-lived helper.
func (o *windowsOps) perCallAvailable() bool { return true }

func (o *windowsOps) invokeOneShot(ctx context.Context, verb Verb, paths []string) ([]PathResult, error) {
	// The one-shot helper writes its results next to the info file, since
	// an elevated ShellExecute child has no usable stdout pipe.
	outPath := o.infoPath + ".oneshot"
	os.Remove(outPath)

	sverb, _ := windows.UTF16PtrFromString("runas")
	exe, _ := windows.UTF16PtrFromString(o.exe)
	argv := append([]string{"elevated-helper", "--oneshot", string(verb), "--out", outPath}, paths...)
	args, _ := windows.UTF16PtrFromString(composeHelperArgs(argv...))

	if err := windows.ShellExecute(0, sverb, exe, args, nil, windows.SW_HIDE); err != nil {
		if errors.Is(err, windows.ERROR_CANCELLED) {
			return nil, ErrElevationDenied
		}
		return nil, fmt.Errorf("failed to launch one-shot helper: %w", err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(rpcTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, errors.New("one-shot helper produced no result")
		case <-ticker.C:
			data, err := os.ReadFile(outPath)
			if err != nil {
				continue
			}
			os.Remove(outPath)
			var resp response
			if err := json.Unmarshal(data, &resp); err != nil {
				return nil, fmt.Errorf("malformed one-shot result: %w", err)
			}
			if !resp.OK {
				return resp.Results, fmt.Errorf("helper: %s", resp.Error)
			}
			return resp.Results, nil
		}
	}
}

func (o *windowsOps) stopPersistent() {
	conn, err := o.dial(context.Background())
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	json.NewEncoder(conn).Encode(&request{Verb: verbShutdown, Token: o.cachedToken}) //nolint:errcheck
}

// composeHelperArgs quotes each argument so ShellExecute's command line
// splits back into os.Args intact in the helper — user-profile paths
// routinely contain spaces.
func composeHelperArgs(args ...string) string {
	return windows.ComposeCommandLine(args)
}

// ServeSession is the elevated-side entry point: binds a loopback
// listener, publishes its address and token, and serves verbs until shut
// down.
func ServeSession(infoPath string) error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to bind helper listener: %w", err)
	}
	defer l.Close()

	raw, err := crypto.GenerateRandom(16)
	if err != nil {
		return err
	}
	token := hex.EncodeToString(raw)

	info, err := json.Marshal(&helperInfo{Addr: l.Addr().String(), Token: token})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(infoPath), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(infoPath, info, 0600); err != nil {
		return fmt.Errorf("failed to publish helper info: %w", err)
	}
	defer os.Remove(infoPath)

	return Serve(l, token)
}
