package fileguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/fadsec-lab/applock/internal/elevate"
	"github.com/fadsec-lab/applock/internal/state"
	"github.com/rs/zerolog/log"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Watch verifies every protected file each interval and restores any
// that were deleted or tampered with from its backup. Returns when ctx
// is cancelled.
func (g *Guard) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.VerifyAll(ctx)
		}
	}
}

// VerifyAll runs one verification pass over all protected files.
func (g *Guard) VerifyAll(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	records, err := g.store.ListProtected()
	if err != nil {
		log.Error().Err(err).Msg("watcher: listing protected files")
		return
	}
	for _, rec := range records {
		if rec.State != state.Protected {
			continue
		}
		if err := g.verifyOne(ctx, rec); err != nil {
			log.Error().Err(err).Str("path", rec.Path).Msg("watcher: verify failed")
		}
	}
}

func (g *Guard) verifyOne(ctx context.Context, rec state.ProtectedFile) error {
	current, err := os.ReadFile(rec.Path)
	switch {
	case os.IsNotExist(err):
		log.Warn().Str("path", rec.Path).Msg("protected file deleted, restoring")
		return g.restore(ctx, rec, nil)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if hashBytes(current) == rec.Hash {
		rec.LastVerifiedAt = time.Now()
		return g.store.PutProtected(rec)
	}

	log.Warn().Str("path", rec.Path).Msg("protected file tampered, restoring")
	return g.restore(ctx, rec, current)
}

// restore puts the backup copy back byte-for-byte and re-applies
// protection. tampered holds the modified content when the file still
// existed, for diff logging; nil means the file was deleted.
func (g *Guard) restore(ctx context.Context, rec state.ProtectedFile, tampered []byte) error {
	original, err := os.ReadFile(rec.BackupPath)
	if err != nil {
		return fmt.Errorf("%w: reading backup: %v", ErrFileOperation, err)
	}

	if tampered != nil {
		logTamperDiff(rec.Path, original, tampered)
	}

	// Drop immutability so the restore write can land. The file may
	// already be mutable (deleted and recreated, or degraded mode).
	if !rec.Degraded {
		if _, err := g.elevator.Invoke(ctx, elevate.VerbUnprotect, []string{rec.Path}); err != nil &&
			!errors.Is(err, elevate.ErrElevationUnavailable) {
			return err
		}
	}

	mode := os.FileMode(rec.OriginalMode)
	if rec.Degraded {
		mode = degradedMode
	}
	if err := writeFileAtomic(rec.Path, original, mode); err != nil {
		return fmt.Errorf("%w: restore write: %v", ErrFileOperation, err)
	}

	degraded, err := g.applyProtection(ctx, rec.Path)
	if err != nil {
		return err
	}
	rec.Degraded = degraded
	rec.LastVerifiedAt = time.Now()
	if err := g.store.PutProtected(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	log.Info().Str("path", rec.Path).Msg("protected file restored from backup")
	return nil
}

// logTamperDiff records what changed in a tampered text file. Binary
// content gets a size note only.
func logTamperDiff(path string, original, tampered []byte) {
	if !utf8.Valid(original) || !utf8.Valid(tampered) || bytes.ContainsRune(original, 0) {
		log.Warn().
			Str("path", path).
			Int("original_bytes", len(original)).
			Int("tampered_bytes", len(tampered)).
			Msg("binary file modified")
		return
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(original), string(tampered), true)
	dmp.DiffCleanupSemantic(diffs)
	log.Warn().
		Str("path", path).
		Str("diff", dmp.DiffPrettyText(diffs)).
		Msg("file content modified")
}
