package elevate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Verb is one of the closed set of operations the elevated helper
// accepts. The helper never executes arbitrary command text.
type Verb string

const (
	VerbProtect      Verb = "protect"
	VerbUnprotect    Verb = "unprotect"
	VerbDisableTools Verb = "disable-tools"
	VerbEnableTools  Verb = "enable-tools"
)

// validVerb reports whether v is in the closed verb set.
func validVerb(v Verb) bool {
	switch v {
	case VerbProtect, VerbUnprotect, VerbDisableTools, VerbEnableTools:
		return true
	}
	return false
}

var (
	ErrElevationUnavailable = errors.New("no elevation mechanism available")
	ErrElevationDenied      = errors.New("elevation denied by user")
	ErrUnknownVerb          = errors.New("unknown verb")
)

// PathResult is the outcome of one verb applied to one path. Operations
// apply per path and never short-circuit a batch, so partial failures
// stay visible.
type PathResult struct {
	Path    string `json:"path"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// SessionMode describes how privileged calls are served.
type SessionMode int

const (
	// ModePersistent uses a session-scoped helper: one prompt, then all
	// subsequent calls are served without re-prompting.
	ModePersistent SessionMode = iota
	// ModePerCall is the degraded fallback: every Invoke raises its own
	// elevation prompt.
	ModePerCall
)

func (m SessionMode) String() string {
	if m == ModePersistent {
		return "persistent"
	}
	return "per-call"
}

// Session is a cached elevation grant, valid for the current login
// session. At most one is active per process lifetime.
type Session struct {
	Mode       SessionMode
	AcquiredAt time.Time
}

// Elevator obtains an elevation session lazily and dispatches verbs to
// the restricted helper.
type Elevator interface {
	// Session returns the cached elevation session, acquiring one on
	// first use. Fails with ErrElevationUnavailable when the platform
	// offers no elevation path at all.
	Session(ctx context.Context) (*Session, error)
	// Invoke applies a verb to the given paths and returns per-path
	// results. A cancelled prompt fails only this call.
	Invoke(ctx context.Context, verb Verb, paths []string) ([]PathResult, error)
	// Revoke tears down the cached session. The next Session call
	// re-acquires.
	Revoke()
}

// platformOps is the per-OS mechanism behind sessionElevator.
type platformOps interface {
	// dial connects to an already-running session helper.
	dial(ctx context.Context) (net.Conn, error)
	// startPersistent launches the session-scoped helper, prompting the
	// user once.
	startPersistent(ctx context.Context) error
	// perCallAvailable reports whether single-prompt-per-call elevation
	// can work on this system.
	perCallAvailable() bool
	// invokeOneShot runs one elevated helper invocation for a single call.
	invokeOneShot(ctx context.Context, verb Verb, paths []string) ([]PathResult, error)
	// stopPersistent asks a running session helper to exit.
	stopPersistent()
	// token authenticates requests where the transport itself does not.
	token() string
}

// sessionElevator implements Elevator on top of a platformOps. The
// session is acquired lazily and cached for the process lifetime;
// acquisition cost is amortized, never paid per operation.
type sessionElevator struct {
	mu      sync.Mutex
	session *Session
	ops     platformOps
}

// New returns the Elevator for the current platform.
func New(dataDir string) Elevator {
	return &sessionElevator{ops: newPlatformOps(dataDir)}
}

func (e *sessionElevator) Session(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionLocked(ctx)
}

func (e *sessionElevator) sessionLocked(ctx context.Context) (*Session, error) {
	if e.session != nil {
		return e.session, nil
	}

	// A helper from an earlier process in this login session may still
	// be serving; reuse it without prompting.
	if conn, err := e.ops.dial(ctx); err == nil {
		conn.Close()
		e.session = &Session{Mode: ModePersistent, AcquiredAt: time.Now()}
		return e.session, nil
	}

	err := e.ops.startPersistent(ctx)
	switch {
	case err == nil:
		e.session = &Session{Mode: ModePersistent, AcquiredAt: time.Now()}
		log.Info().Msg("persistent elevation session established")
		return e.session, nil
	case errors.Is(err, ErrElevationDenied):
		// A dismissed prompt fails this acquisition but the caller may
		// retry; do not latch a degraded session.
		return nil, err
	}

	if e.ops.perCallAvailable() {
		log.Warn().Err(err).Msg("session-scoped elevation unavailable, degrading to one prompt per call")
		e.session = &Session{Mode: ModePerCall, AcquiredAt: time.Now()}
		return e.session, nil
	}

	return nil, ErrElevationUnavailable
}

func (e *sessionElevator) Invoke(ctx context.Context, verb Verb, paths []string) ([]PathResult, error) {
	if !validVerb(verb) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := e.sessionLocked(ctx)
	if err != nil {
		return nil, err
	}

	if session.Mode == ModePerCall {
		return e.ops.invokeOneShot(ctx, verb, paths)
	}

	conn, err := e.ops.dial(ctx)
	if err != nil {
		// Helper died (reboot, kill). Drop the session and re-acquire
		// once; a second failure surfaces.
		e.session = nil
		if _, aerr := e.sessionLocked(ctx); aerr != nil {
			return nil, aerr
		}
		if e.session.Mode == ModePerCall {
			return e.ops.invokeOneShot(ctx, verb, paths)
		}
		if conn, err = e.ops.dial(ctx); err != nil {
			return nil, fmt.Errorf("elevated helper unreachable: %w", err)
		}
	}
	defer conn.Close()

	return roundTrip(conn, e.ops.token(), verb, paths)
}

func (e *sessionElevator) Revoke() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && e.session.Mode == ModePersistent {
		e.ops.stopPersistent()
	}
	e.session = nil
}
