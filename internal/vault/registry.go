package vault

import (
	"path/filepath"
	"strings"
	"time"
)

// LockState is the runtime lock state of an application. States never
// persist across monitor restarts: every registry load normalizes to
// StateLocked.
type LockState int

const (
	StateLocked LockState = iota
	StatePendingAuth
	StateUnlocked
)

func (s LockState) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StatePendingAuth:
		return "pending-auth"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// LockedApplication is one entry of the protected-app registry.
type LockedApplication struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path,omitempty"`
	Pattern        string    `json:"pattern"`
	Group          string    `json:"group,omitempty"`
	LockState      LockState `json:"-"`
	UnlockCount    int       `json:"unlock_count"`
	LastUnlockedAt time.Time `json:"last_unlocked_at,omitzero"`
	AddedAt        time.Time `json:"added_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

// GroupKey returns the key under which processes of this application are
// grouped. Several apps sharing one key (e.g. a browser family) are
// locked and unlocked as a unit.
func (a *LockedApplication) GroupKey() string {
	if a.Group != "" {
		return strings.ToLower(a.Group)
	}
	return strings.ToLower(a.Pattern)
}

// Registry is the decrypted vault payload: the set of locked applications.
type Registry struct {
	Version  int                 `json:"version"`
	Created  time.Time           `json:"created"`
	Modified time.Time           `json:"modified"`
	Apps     []LockedApplication `json:"apps"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	now := time.Now()
	return &Registry{
		Version: 1,
		Created: now,
		Apps:    make([]LockedApplication, 0),
	}
}

// Add registers an application. The process-name pattern defaults to the
// basename of the executable path. Returns false if the ID is taken.
func (r *Registry) Add(app LockedApplication) bool {
	if r.Find(app.ID) != nil {
		return false
	}
	if app.Pattern == "" && app.Path != "" {
		app.Pattern = strings.ToLower(filepath.Base(app.Path))
	}
	now := time.Now()
	app.AddedAt = now
	app.ModifiedAt = now
	app.LockState = StateLocked
	r.Apps = append(r.Apps, app)
	r.Modified = now
	return true
}

// Remove deletes an application by ID. Returns false if not present.
func (r *Registry) Remove(id string) bool {
	for i := range r.Apps {
		if r.Apps[i].ID == id {
			r.Apps = append(r.Apps[:i], r.Apps[i+1:]...)
			r.Modified = time.Now()
			return true
		}
	}
	return false
}

// Find returns the application with the given ID, or nil.
func (r *Registry) Find(id string) *LockedApplication {
	for i := range r.Apps {
		if r.Apps[i].ID == id {
			return &r.Apps[i]
		}
	}
	return nil
}

// RecordUnlock increments the unlock counter of an app and stamps the
// unlock time. Called by the monitor after a successful verification.
func (r *Registry) RecordUnlock(id string, at time.Time) bool {
	app := r.Find(id)
	if app == nil {
		return false
	}
	app.UnlockCount++
	app.LastUnlockedAt = at
	app.ModifiedAt = at
	r.Modified = at
	return true
}

// Clone returns a copy that is safe to serialize while the original
// keeps changing under its owner's lock.
func (r *Registry) Clone() *Registry {
	c := *r
	c.Apps = append([]LockedApplication(nil), r.Apps...)
	return &c
}

// normalize resets runtime state after a load. Lock states are never
// trusted from disk.
func (r *Registry) normalize() {
	for i := range r.Apps {
		r.Apps[i].LockState = StateLocked
	}
}
