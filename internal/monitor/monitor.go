package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fadsec-lab/applock/internal/state"
	"github.com/fadsec-lab/applock/internal/vault"
	"github.com/hashicorp/go-set/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyStarted = errors.New("monitor already started")
	// ErrAttemptsExhausted means the wrong-password limit was reached;
	// the triggering processes were terminated and the group relocked.
	ErrAttemptsExhausted = errors.New("password attempts exhausted")
	// ErrRequestClosed means the auth request was resolved elsewhere:
	// the processes exited, the monitor stopped, or the prompt raced a
	// concurrent resolution.
	ErrRequestClosed = errors.New("auth request no longer active")
)

// Verifier checks a candidate master password. *vault.Vault satisfies it.
type Verifier interface {
	Verify(password []byte) error
}

// Options tune the monitor. Zero values are replaced with conservative
// defaults; production values come from the config file.
type Options struct {
	PollInterval time.Duration
	// MaxAttempts is the wrong-password limit per pending window.
	MaxAttempts int
	// RelockAfter is the number of consecutive scans without any group
	// process before an unlocked group returns to locked.
	RelockAfter int
	// Persist, when set, is called with the verified password after a
	// successful unlock so counters reach the encrypted registry. It
	// receives a detached snapshot and runs outside the monitor lock,
	// so scanning continues while the vault write lands. Errors are
	// logged, never surfaced to the unlocking user.
	Persist func(reg *vault.Registry, password []byte) error
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RelockAfter <= 0 {
		o.RelockAfter = 10
	}
}

// StateChange is one lock-state transition, emitted per application.
type StateChange struct {
	AppID    string
	GroupKey string
	Old, New vault.LockState
}

// authAttempt is one password submission travelling from the UI to the
// monitor's pending-group goroutine.
type authAttempt struct {
	password []byte
	reply    chan error
}

// AuthRequest is raised exactly once per group per pending window. The
// consumer prompts the user and feeds passwords through Submit until it
// returns nil (unlocked) or a terminal error.
type AuthRequest struct {
	GroupKey string
	AppNames []string

	attempts   chan authAttempt
	cancel     chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	cancelOnce sync.Once
}

func newAuthRequest(g *group) *AuthRequest {
	names := make([]string, 0, len(g.apps))
	for _, app := range g.apps {
		names = append(names, app.Name)
	}
	return &AuthRequest{
		GroupKey: g.key,
		AppNames: names,
		attempts: make(chan authAttempt),
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit delivers one password attempt and blocks until it is judged.
// nil means the group is unlocked. A failed verification returns the
// verifier's error and leaves the prompt open for another attempt, until
// ErrAttemptsExhausted.
func (r *AuthRequest) Submit(password []byte) error {
	att := authAttempt{password: password, reply: make(chan error, 1)}
	select {
	case r.attempts <- att:
	case <-r.done:
		return ErrRequestClosed
	}
	select {
	case err := <-att.reply:
		return err
	case <-r.done:
		// The reply may have landed in the same instant the request was
		// resolved; prefer it over the generic closure.
		select {
		case err := <-att.reply:
			return err
		default:
			return ErrRequestClosed
		}
	}
}

// Cancel gives up on the prompt. The triggering processes are terminated
// and the group returns to locked.
func (r *AuthRequest) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

// Done is closed once the request is resolved, whichever way.
func (r *AuthRequest) Done() <-chan struct{} { return r.done }

func (r *AuthRequest) close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// group is the runtime state of one logical application: every registry
// entry sharing a group key, locked and unlocked as a unit.
type group struct {
	key        string
	apps       []*vault.LockedApplication
	state      vault.LockState
	pids       *set.Set[int]
	emptyScans int
	attempts   int
	pending    *AuthRequest
}

// Monitor drives the per-group lock state machine from a fixed-interval
// process scan. One Monitor owns one session; it holds no global state.
type Monitor struct {
	opts     Options
	lister   Lister
	verifier Verifier
	store    *state.Store
	ctl      controller

	requests chan *AuthRequest
	events   chan StateChange

	mu      sync.Mutex
	groups  map[string]*group
	reg     *vault.Registry
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// New creates a monitor. lister may be nil to use the platform lister;
// store may be nil to skip counter mirroring.
func New(opts Options, lister Lister, verifier Verifier, store *state.Store) *Monitor {
	opts.defaults()
	if lister == nil {
		lister = NewLister()
	}
	return &Monitor{
		opts:     opts,
		lister:   lister,
		verifier: verifier,
		store:    store,
		ctl:      newController(),
		requests: make(chan *AuthRequest, 8),
		events:   make(chan StateChange, 64),
	}
}

// Requests delivers exactly one AuthRequest per group per pending window.
func (m *Monitor) Requests() <-chan *AuthRequest { return m.requests }

// Events streams lock-state transitions for the control surface.
func (m *Monitor) Events() <-chan StateChange { return m.events }

// Start begins the polling loop over the given registry. Every app
// starts locked; no lock state survives a restart.
func (m *Monitor) Start(ctx context.Context, reg *vault.Registry) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.running = true
	m.reg = reg
	m.groups = buildGroups(reg)
	ctx, m.stop = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	log.Info().Int("groups", len(m.groups)).Dur("interval", m.opts.PollInterval).Msg("process monitor started")
	go m.loop(ctx)
	return nil
}

// Stop cancels the polling loop and waits for it to drain.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stop, done := m.stop, m.done
	m.mu.Unlock()

	stop()
	<-done
}

// Running reports whether a session is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func buildGroups(reg *vault.Registry) map[string]*group {
	groups := make(map[string]*group)
	for i := range reg.Apps {
		app := &reg.Apps[i]
		app.LockState = vault.StateLocked
		key := app.GroupKey()
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, state: vault.StateLocked, pids: set.New[int](0)}
			groups[key] = g
		}
		g.apps = append(g.apps, app)
	}
	return groups
}

func (m *Monitor) loop(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(m.done)
	}()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("process monitor stopped")
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

// scan runs one poll cycle. Only the pending group's auth wait ever
// blocks, and it blocks its own goroutine: every other app keeps being
// evaluated each cycle.
func (m *Monitor) scan(ctx context.Context) {
	procs, err := m.lister.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("process scan failed")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.groups {
		matched := matchPids(procs, g)
		switch g.state {
		case vault.StateLocked:
			if matched.Empty() {
				continue
			}
			m.toPending(ctx, g, matched)

		case vault.StatePendingAuth:
			if matched.Empty() {
				// With real suspension a vanished group means the user
				// closed it before answering: benign race. Where
				// Suspend terminates, empty matches are the normal
				// pending picture and the prompt stays open until it
				// is answered or cancelled.
				if m.ctl.CanSuspend() {
					m.resolveRaceLost(g)
				}
				continue
			}
			// Members that appeared during the pending window join the
			// suspended set; no second prompt is raised.
			for _, pid := range matched.Slice() {
				if g.pids.Contains(pid) {
					continue
				}
				g.pids.Insert(pid)
				if err := m.ctl.Suspend(pid); err != nil {
					log.Debug().Err(err).Int("pid", pid).Msg("failed to suspend late group member")
				}
			}

		case vault.StateUnlocked:
			if matched.Empty() {
				g.emptyScans++
				if g.emptyScans >= m.opts.RelockAfter {
					g.pids = set.New[int](0)
					m.setState(g, vault.StateLocked)
					log.Info().Str("group", g.key).Msg("all group processes exited, relocked")
				}
				continue
			}
			g.emptyScans = 0
			g.pids = matched
		}
	}
}

func matchPids(procs []Process, g *group) *set.Set[int] {
	pids := set.New[int](0)
	for _, p := range procs {
		for _, app := range g.apps {
			if Matches(p, app) {
				pids.Insert(p.PID)
				break
			}
		}
	}
	return pids
}

// toPending suspends the matched processes, raises the single auth
// request for the group and hands the wait to its own goroutine.
// Called with m.mu held.
func (m *Monitor) toPending(ctx context.Context, g *group, matched *set.Set[int]) {
	g.pids = matched
	g.attempts = 0
	for _, pid := range matched.Slice() {
		if err := m.ctl.Suspend(pid); err != nil {
			log.Debug().Err(err).Int("pid", pid).Msg("failed to suspend process")
		}
	}

	req := newAuthRequest(g)
	g.pending = req
	m.setState(g, vault.StatePendingAuth)
	log.Info().Str("group", g.key).Ints("pids", matched.Slice()).Msg("locked application launched, authentication required")

	go m.await(ctx, g, req)
}

// resolveRaceLost handles every group member exiting before the prompt
// was answered: benign, logged, never surfaced. Called with m.mu held.
func (m *Monitor) resolveRaceLost(g *group) {
	req := g.pending
	g.pending = nil
	g.pids = set.New[int](0)
	m.setState(g, vault.StateLocked)
	if req != nil {
		req.close()
	}
	log.Info().Str("group", g.key).Msg("process exited before authentication, relocked")
}

// await consumes password attempts for one pending group. It runs beside
// the scan loop so a slow user answer never stalls polling.
func (m *Monitor) await(ctx context.Context, g *group, req *AuthRequest) {
	select {
	case m.requests <- req:
	case <-ctx.Done():
		m.abandon(g, req)
		return
	case <-req.done:
		return
	}

	for {
		select {
		case <-ctx.Done():
			m.abandon(g, req)
			return
		case <-req.done:
			return
		case <-req.cancel:
			m.terminateAndRelock(g, req, "authentication cancelled")
			return
		case att := <-req.attempts:
			verr := m.verifier.Verify(att.password)
			if verr == nil {
				if m.unlock(g, req, att.password) {
					att.reply <- nil
				} else {
					att.reply <- ErrRequestClosed
				}
				return
			}

			m.mu.Lock()
			if g.pending != req {
				m.mu.Unlock()
				att.reply <- ErrRequestClosed
				return
			}
			g.attempts++
			exhausted := g.attempts >= m.opts.MaxAttempts
			m.mu.Unlock()

			m.recordWrongAttempt(g)
			if exhausted {
				m.terminateAndRelock(g, req, "password attempts exhausted")
				att.reply <- ErrAttemptsExhausted
				return
			}
			att.reply <- verr
		}
	}
}

// unlock transitions the group to Unlocked, resumes its processes and
// persists the counters. Returns false if the request already resolved.
func (m *Monitor) unlock(g *group, req *AuthRequest, password []byte) bool {
	m.mu.Lock()
	if g.pending != req {
		m.mu.Unlock()
		return false
	}
	g.pending = nil
	g.emptyScans = 0
	now := time.Now()
	for _, app := range g.apps {
		m.reg.RecordUnlock(app.ID, now)
	}
	pids := g.pids.Slice()
	apps := g.apps
	// Snapshot under the lock; the KDF and vault write behind Persist
	// are far too slow to run while scans wait on m.mu.
	var snap *vault.Registry
	if m.opts.Persist != nil {
		snap = m.reg.Clone()
	}
	m.setState(g, vault.StateUnlocked)
	m.mu.Unlock()

	for _, pid := range pids {
		if err := m.ctl.Resume(pid); err != nil {
			log.Debug().Err(err).Int("pid", pid).Msg("failed to resume process")
		}
	}
	if m.store != nil {
		for _, app := range apps {
			if err := m.store.RecordUnlock(app.ID, now); err != nil {
				log.Warn().Err(err).Str("app", app.ID).Msg("failed to record unlock")
			}
		}
	}
	if m.opts.Persist != nil {
		if err := m.opts.Persist(snap, password); err != nil {
			log.Warn().Err(err).Msg("failed to persist registry counters")
		}
	}

	req.close()
	log.Info().Str("group", g.key).Msg("application unlocked")
	return true
}

// terminateAndRelock kills the triggering processes and returns the
// group to Locked.
func (m *Monitor) terminateAndRelock(g *group, req *AuthRequest, reason string) {
	m.mu.Lock()
	if g.pending != req {
		m.mu.Unlock()
		return
	}
	g.pending = nil
	pids := g.pids.Slice()
	g.pids = set.New[int](0)
	m.setState(g, vault.StateLocked)
	m.mu.Unlock()

	for _, pid := range pids {
		if err := m.ctl.Terminate(pid); err != nil {
			log.Warn().Err(err).Int("pid", pid).Msg("failed to terminate process")
		}
	}
	req.close()
	log.Warn().Str("group", g.key).Str("reason", reason).Msg("relocked and terminated triggering processes")
}

// abandon resolves a pending group on monitor stop: processes are
// resumed, not killed, and the group is left locked for the next session.
func (m *Monitor) abandon(g *group, req *AuthRequest) {
	m.mu.Lock()
	if g.pending != req {
		m.mu.Unlock()
		return
	}
	g.pending = nil
	pids := g.pids.Slice()
	g.pids = set.New[int](0)
	m.setState(g, vault.StateLocked)
	m.mu.Unlock()

	for _, pid := range pids {
		m.ctl.Resume(pid) //nolint:errcheck
	}
	req.close()
}

func (m *Monitor) recordWrongAttempt(g *group) {
	if m.store == nil {
		return
	}
	for _, app := range g.apps {
		if err := m.store.RecordWrongAttempt(app.ID); err != nil {
			log.Warn().Err(err).Str("app", app.ID).Msg("failed to record wrong attempt")
		}
	}
}

// setState applies a transition to every app of the group and emits one
// event per app. Called with m.mu held.
func (m *Monitor) setState(g *group, s vault.LockState) {
	old := g.state
	g.state = s
	for _, app := range g.apps {
		app.LockState = s
		ev := StateChange{AppID: app.ID, GroupKey: g.key, Old: old, New: s}
		select {
		case m.events <- ev:
		default:
			// A stalled consumer never stalls enforcement.
		}
	}
}
