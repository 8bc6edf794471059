package fileguard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fadsec-lab/applock/internal/elevate"
	"github.com/fadsec-lab/applock/internal/state"
	"github.com/rs/zerolog/log"
)

// ErrFileOperation wraps filesystem failures during protect, unprotect
// or restore.
var ErrFileOperation = errors.New("file operation failed")

// degradedMode narrows ordinary permissions when true immutability is
// not available: owner-read-only.
const degradedMode = 0400

// Result is the per-path outcome of Protect/Unprotect. Degraded means
// the path is guarded by narrowed permissions instead of an immutable
// attribute because no elevation was available; callers must surface it.
type Result struct {
	Path     string
	Degraded bool
	Err      error
}

// Guard backs up, immutabilizes, watches and auto-restores critical
// files. All privileged work goes through the Elevator.
type Guard struct {
	mu        sync.Mutex
	store     *state.Store
	elevator  elevate.Elevator
	backupDir string
}

// New creates a Guard persisting records to store and keeping backup
// artifacts under backupDir.
func New(store *state.Store, elevator elevate.Elevator, backupDir string) *Guard {
	return &Guard{store: store, elevator: elevator, backupDir: backupDir}
}

// Protect guards each path. The backup copy is written before any
// immutability is applied: if the backup fails, the path stays
// unprotected (fails closed). Calling Protect on an already-protected
// path is a successful no-op, so overlapping watcher and manual calls
// are harmless.
func (g *Guard) Protect(ctx context.Context, paths []string) []Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		results = append(results, g.protectOne(ctx, path))
	}
	return results
}

func (g *Guard) protectOne(ctx context.Context, path string) Result {
	rec, err := g.store.GetProtected(path)
	if err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: %v", ErrFileOperation, err)}
	}
	if rec != nil && rec.State == state.Protected {
		// Idempotent: one backup, one Protected record.
		return Result{Path: path, Degraded: rec.Degraded}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: %v", ErrFileOperation, err)}
	}

	// Backup must exist before the file becomes immutable.
	bpath := backupPath(g.backupDir, path)
	if err := copyFile(path, bpath, 0600); err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: backup: %v", ErrFileOperation, err)}
	}
	hash, err := hashFile(bpath)
	if err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: %v", ErrFileOperation, err)}
	}

	newRec := state.ProtectedFile{
		Path:         path,
		BackupPath:   bpath,
		Hash:         hash,
		OriginalMode: uint32(info.Mode().Perm()),
	}

	degraded, err := g.applyProtection(ctx, path)
	if err != nil {
		return Result{Path: path, Err: err}
	}

	newRec.State = state.Protected
	newRec.Degraded = degraded
	newRec.LastVerifiedAt = time.Now()
	if err := g.store.PutProtected(newRec); err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: %v", ErrFileOperation, err)}
	}

	log.Info().Str("path", path).Bool("degraded", degraded).Msg("file protected")
	return Result{Path: path, Degraded: degraded}
}

// applyProtection makes one path immutable through the elevator, or
// narrows its permissions when no elevation exists at all.
func (g *Guard) applyProtection(ctx context.Context, path string) (degraded bool, err error) {
	results, err := g.elevator.Invoke(ctx, elevate.VerbProtect, []string{path})
	switch {
	case errors.Is(err, elevate.ErrElevationUnavailable):
		// Best effort instead of aborting: owner-read-only. Surfaced
		// through the Degraded flag, never swallowed.
		if cerr := os.Chmod(path, degradedMode); cerr != nil {
			return false, fmt.Errorf("%w: degraded chmod: %v", ErrFileOperation, cerr)
		}
		log.Warn().Str("path", path).Msg("no elevation available, protection degraded to permissions")
		return true, nil
	case err != nil:
		return false, err
	}

	for _, r := range results {
		if !r.OK {
			return false, fmt.Errorf("%w: %s", ErrFileOperation, r.Message)
		}
	}
	return false, nil
}

// Unprotect removes protection from each path. Unprotecting a path with
// no record is a successful no-op.
func (g *Guard) Unprotect(ctx context.Context, paths []string) []Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		results = append(results, g.unprotectOne(ctx, path))
	}
	return results
}

func (g *Guard) unprotectOne(ctx context.Context, path string) Result {
	rec, err := g.store.GetProtected(path)
	if err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: %v", ErrFileOperation, err)}
	}
	if rec == nil || rec.State != state.Protected {
		return Result{Path: path}
	}

	if rec.Degraded {
		if err := os.Chmod(path, os.FileMode(rec.OriginalMode)); err != nil && !os.IsNotExist(err) {
			return Result{Path: path, Err: fmt.Errorf("%w: %v", ErrFileOperation, err)}
		}
	} else {
		results, err := g.elevator.Invoke(ctx, elevate.VerbUnprotect, []string{path})
		if err != nil {
			return Result{Path: path, Err: err}
		}
		for _, r := range results {
			if !r.OK {
				return Result{Path: path, Err: fmt.Errorf("%w: %s", ErrFileOperation, r.Message)}
			}
		}
		if err := os.Chmod(path, os.FileMode(rec.OriginalMode)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to restore file mode")
		}
	}

	if err := g.store.DeleteProtected(path); err != nil {
		return Result{Path: path, Err: fmt.Errorf("%w: %v", ErrFileOperation, err)}
	}
	log.Info().Str("path", path).Msg("file unprotected")
	return Result{Path: path}
}

// UnprotectAll releases every protected file. Called on monitor stop and
// uninstall so files are never left permanently immutable after a clean
// exit.
func (g *Guard) UnprotectAll(ctx context.Context) error {
	records, err := g.store.ListProtected()
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(records))
	for _, rec := range records {
		paths = append(paths, rec.Path)
	}

	var firstErr error
	for _, r := range g.Unprotect(ctx, paths) {
		if r.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", r.Path, r.Err)
		}
	}
	return firstErr
}

// StaleProtection reports files still recorded as protected after a
// session that never stopped cleanly. The startup self-check uses it to
// offer recovery.
func (g *Guard) StaleProtection() ([]state.ProtectedFile, error) {
	crashed, err := g.store.CrashedSession()
	if err != nil {
		return nil, err
	}
	if !crashed {
		return nil, nil
	}
	records, err := g.store.ListProtected()
	if err != nil {
		return nil, err
	}
	stale := records[:0:0]
	for _, rec := range records {
		if rec.State == state.Protected {
			stale = append(stale, rec)
		}
	}
	return stale, nil
}
