package monitor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fadsec-lab/applock/internal/vault"
)

// fakeLister serves a mutable process list.
type fakeLister struct {
	mu    sync.Mutex
	procs []Process
}

func (l *fakeLister) Snapshot() ([]Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Process(nil), l.procs...), nil
}

func (l *fakeLister) set(procs ...Process) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.procs = procs
}

// fakeVerifier accepts one password and counts calls.
type fakeVerifier struct {
	mu       sync.Mutex
	password []byte
	calls    int
}

func (v *fakeVerifier) Verify(password []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if bytes.Equal(password, v.password) {
		return nil
	}
	return vault.ErrAuthFailed
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// fakeController records signals instead of sending them. With
// noSuspend set it mimics platforms where Suspend terminates.
type fakeController struct {
	mu         sync.Mutex
	noSuspend  bool
	suspended  []int
	resumed    []int
	terminated []int
}

func (c *fakeController) Suspend(pid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = append(c.suspended, pid)
	return nil
}

func (c *fakeController) Resume(pid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumed = append(c.resumed, pid)
	return nil
}

func (c *fakeController) Terminate(pid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = append(c.terminated, pid)
	return nil
}

func (c *fakeController) CanSuspend() bool {
	return !c.noSuspend
}

func (c *fakeController) terminatedPids() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.terminated...)
}

func testRegistry(t *testing.T) *vault.Registry {
	t.Helper()
	reg := vault.NewRegistry()
	if !reg.Add(vault.LockedApplication{ID: "calc", Name: "Calculator", Pattern: "calc"}) {
		t.Fatal("failed to add calc")
	}
	return reg
}

// newTestMonitor wires a monitor with fakes and prepares groups without
// starting the ticker loop; tests drive scans directly.
func newTestMonitor(t *testing.T, reg *vault.Registry, verifier Verifier) (*Monitor, *fakeLister, *fakeController) {
	t.Helper()
	lister := &fakeLister{}
	ctl := &fakeController{}
	m := New(Options{MaxAttempts: 3, RelockAfter: 2}, lister, verifier, nil)
	m.ctl = ctl
	m.reg = reg
	m.groups = buildGroups(reg)
	return m, lister, ctl
}

func waitRequest(t *testing.T, m *Monitor) *AuthRequest {
	t.Helper()
	select {
	case req := <-m.Requests():
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no auth request raised")
		return nil
	}
}

func groupState(m *Monitor, key string) vault.LockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[key].state
}

func TestSingleRequestPerGroupPerCycle(t *testing.T) {
	reg := vault.NewRegistry()
	reg.Add(vault.LockedApplication{ID: "chrome", Name: "Chrome", Pattern: "chrome", Group: "chrome"})
	m, lister, ctl := newTestMonitor(t, reg, &fakeVerifier{password: []byte("P1")})

	// Two group members launch within the same poll window.
	lister.set(
		Process{PID: 100, Name: "chrome"},
		Process{PID: 101, Name: "chrome"},
	)
	m.scan(context.Background())

	req := waitRequest(t, m)
	if req.GroupKey != "chrome" {
		t.Errorf("group = %q, want chrome", req.GroupKey)
	}

	// A second scan with the group still pending must not raise another.
	m.scan(context.Background())
	select {
	case <-m.Requests():
		t.Fatal("duplicate auth request for pending group")
	case <-time.After(50 * time.Millisecond):
	}

	ctl.mu.Lock()
	suspended := len(ctl.suspended)
	ctl.mu.Unlock()
	if suspended != 2 {
		t.Errorf("suspended %d processes, want 2", suspended)
	}
}

func TestWrongPasswordsThenCorrect(t *testing.T) {
	reg := testRegistry(t)
	verifier := &fakeVerifier{password: []byte("P1")}
	m, lister, ctl := newTestMonitor(t, reg, verifier)

	lister.set(Process{PID: 42, Name: "calc"})
	m.scan(context.Background())
	req := waitRequest(t, m)

	// Three wrong passwords exhaust the limit and terminate the process.
	for i := 0; i < 2; i++ {
		if err := req.Submit([]byte("nope")); !errors.Is(err, vault.ErrAuthFailed) {
			t.Fatalf("attempt %d: err = %v, want ErrAuthFailed", i+1, err)
		}
	}
	if err := req.Submit([]byte("nope")); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("final attempt: err = %v, want ErrAttemptsExhausted", err)
	}
	if got := ctl.terminatedPids(); len(got) != 1 || got[0] != 42 {
		t.Errorf("terminated = %v, want [42]", got)
	}
	if s := groupState(m, "calc"); s != vault.StateLocked {
		t.Errorf("state after exhaustion = %s, want locked", s)
	}

	// Relaunch and enter the right password.
	m.scan(context.Background())
	req = waitRequest(t, m)
	if err := req.Submit([]byte("P1")); err != nil {
		t.Fatalf("correct password: %v", err)
	}
	if s := groupState(m, "calc"); s != vault.StateUnlocked {
		t.Errorf("state = %s, want unlocked", s)
	}
	if app := reg.Find("calc"); app.UnlockCount != 1 {
		t.Errorf("unlock_count = %d, want 1", app.UnlockCount)
	}
	if verifier.callCount() != 4 {
		t.Errorf("verifier calls = %d, want 4", verifier.callCount())
	}
}

func TestNoUnlockWithoutVerify(t *testing.T) {
	reg := testRegistry(t)
	verifier := &fakeVerifier{password: []byte("P1")}
	m, lister, _ := newTestMonitor(t, reg, verifier)

	lister.set(Process{PID: 42, Name: "calc"})
	m.scan(context.Background())
	waitRequest(t, m)

	if s := groupState(m, "calc"); s != vault.StatePendingAuth {
		t.Errorf("state = %s, want pending-auth", s)
	}
	if verifier.callCount() != 0 {
		t.Errorf("verifier called %d times before any submission", verifier.callCount())
	}
}

func TestCancelTerminatesAndRelocks(t *testing.T) {
	reg := testRegistry(t)
	m, lister, ctl := newTestMonitor(t, reg, &fakeVerifier{password: []byte("P1")})

	lister.set(Process{PID: 7, Name: "calc"})
	m.scan(context.Background())
	req := waitRequest(t, m)

	req.Cancel()
	select {
	case <-req.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request not resolved after cancel")
	}
	if got := ctl.terminatedPids(); len(got) != 1 || got[0] != 7 {
		t.Errorf("terminated = %v, want [7]", got)
	}
	if s := groupState(m, "calc"); s != vault.StateLocked {
		t.Errorf("state = %s, want locked", s)
	}
}

func TestProcessExitDuringPendingIsBenign(t *testing.T) {
	reg := testRegistry(t)
	m, lister, ctl := newTestMonitor(t, reg, &fakeVerifier{password: []byte("P1")})

	lister.set(Process{PID: 7, Name: "calc"})
	m.scan(context.Background())
	req := waitRequest(t, m)

	// The process exits before anyone answers the prompt.
	lister.set()
	m.scan(context.Background())

	if s := groupState(m, "calc"); s != vault.StateLocked {
		t.Errorf("state = %s, want locked", s)
	}
	// The request resolves so a prompt consumer can skip it.
	select {
	case <-req.Done():
	case <-time.After(time.Second):
		t.Error("request not resolved after group exit")
	}
	if err := req.Submit([]byte("P1")); !errors.Is(err, ErrRequestClosed) {
		t.Errorf("Submit after race = %v, want ErrRequestClosed", err)
	}
	if got := ctl.terminatedPids(); len(got) != 0 {
		t.Errorf("terminated = %v, want none", got)
	}
}

func TestPendingSurvivesTerminatingSuspend(t *testing.T) {
	reg := testRegistry(t)
	m, lister, ctl := newTestMonitor(t, reg, &fakeVerifier{password: []byte("P1")})
	ctl.noSuspend = true

	lister.set(Process{PID: 9, Name: "calc"})
	m.scan(context.Background())
	req := waitRequest(t, m)

	// Where Suspend terminates, the group's processes vanish from the
	// very next snapshot. The prompt must stay open regardless.
	lister.set()
	m.scan(context.Background())
	m.scan(context.Background())

	if s := groupState(m, "calc"); s != vault.StatePendingAuth {
		t.Fatalf("state after empty scans = %s, want pending-auth", s)
	}
	select {
	case <-req.Done():
		t.Fatal("request resolved before anyone answered")
	default:
	}

	if err := req.Submit([]byte("P1")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if s := groupState(m, "calc"); s != vault.StateUnlocked {
		t.Errorf("state = %s, want unlocked", s)
	}
}

func TestPersistDoesNotBlockScanning(t *testing.T) {
	reg := testRegistry(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var persisted *vault.Registry
	m, lister, _ := newTestMonitor(t, reg, &fakeVerifier{password: []byte("P1")})
	m.opts.Persist = func(snap *vault.Registry, password []byte) error {
		persisted = snap
		close(entered)
		<-release
		return nil
	}

	lister.set(Process{PID: 7, Name: "calc"})
	m.scan(context.Background())
	req := waitRequest(t, m)

	submitted := make(chan error, 1)
	go func() { submitted <- req.Submit([]byte("P1")) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("persist hook never called")
	}

	// A slow vault write must not stall the scan loop.
	scanned := make(chan struct{})
	go func() {
		m.scan(context.Background())
		close(scanned)
	}()
	select {
	case <-scanned:
	case <-time.After(2 * time.Second):
		t.Fatal("scan blocked behind persist")
	}

	close(release)
	if err := <-submitted; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if app := persisted.Find("calc"); app == nil || app.UnlockCount != 1 {
		t.Fatalf("persisted snapshot = %+v, want unlock_count 1", app)
	}
	// The snapshot is detached: later registry changes stay out of it.
	reg.Find("calc").UnlockCount = 99
	if persisted.Find("calc").UnlockCount != 1 {
		t.Error("persisted snapshot shares storage with the live registry")
	}
}

func TestRelockAfterAllProcessesExit(t *testing.T) {
	reg := testRegistry(t)
	m, lister, _ := newTestMonitor(t, reg, &fakeVerifier{password: []byte("P1")})

	lister.set(Process{PID: 7, Name: "calc"})
	m.scan(context.Background())
	req := waitRequest(t, m)
	if err := req.Submit([]byte("P1")); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	// RelockAfter is 2: one empty scan keeps it unlocked, the second
	// relocks.
	lister.set()
	m.scan(context.Background())
	if s := groupState(m, "calc"); s != vault.StateUnlocked {
		t.Fatalf("state after one empty scan = %s, want unlocked", s)
	}
	m.scan(context.Background())
	if s := groupState(m, "calc"); s != vault.StateLocked {
		t.Errorf("state after relock threshold = %s, want locked", s)
	}
}

func TestStateChangeEvents(t *testing.T) {
	reg := testRegistry(t)
	m, lister, _ := newTestMonitor(t, reg, &fakeVerifier{password: []byte("P1")})

	lister.set(Process{PID: 7, Name: "calc"})
	m.scan(context.Background())
	waitRequest(t, m)

	select {
	case ev := <-m.Events():
		if ev.AppID != "calc" || ev.New != vault.StatePendingAuth {
			t.Errorf("event = %+v, want calc -> pending-auth", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no state change event")
	}
}

func TestMatches(t *testing.T) {
	app := &vault.LockedApplication{Pattern: "chrome"}
	cases := []struct {
		proc Process
		want bool
	}{
		{Process{Name: "chrome"}, true},
		{Process{Name: "Chrome"}, true},
		{Process{Name: "chrome-sandbox"}, true},
		{Process{Name: "bash", Path: "/opt/google/chrome/chrome"}, true},
		{Process{Name: "firefox"}, false},
		{Process{Name: ""}, false},
	}
	for _, tc := range cases {
		if got := Matches(tc.proc, app); got != tc.want {
			t.Errorf("Matches(%+v) = %v, want %v", tc.proc, got, tc.want)
		}
	}
}

func TestStartStop(t *testing.T) {
	reg := testRegistry(t)
	lister := &fakeLister{}
	m := New(Options{PollInterval: 10 * time.Millisecond}, lister, &fakeVerifier{password: []byte("P1")}, nil)
	m.ctl = &fakeController{}

	if err := m.Start(context.Background(), reg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background(), reg); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	m.Stop()
	if m.Running() {
		t.Error("monitor still running after Stop")
	}
}
