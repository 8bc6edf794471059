package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadsec-lab/applock/internal/crypto"
	"github.com/fadsec-lab/applock/internal/elevate"
	"github.com/fadsec-lab/applock/internal/fileguard"
	"github.com/fadsec-lab/applock/internal/instance"
	"github.com/fadsec-lab/applock/internal/monitor"
	"github.com/fadsec-lab/applock/internal/state"
	"github.com/fadsec-lab/applock/internal/vault"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start runs the enforcement engine until ctx is cancelled: single
// instance guard, vault unlock, file protection with its watcher, and
// the process monitor with terminal auth prompts.
func Start(ctx context.Context, cfgPath string) {
	cfg := LoadConfigOrExit(cfgPath)
	if lvl, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	lease, err := instance.Acquire(cfg.LockPath())
	if err != nil {
		HandleError(err)
	}
	defer lease.Release()

	v := OpenVault(cfg)
	password := GetPasswordOrExit(v, "Enter master password: ")
	reg, err := v.Unlock(password)
	if err != nil {
		crypto.ClearBytes(password)
		HandleError(err)
	}
	crypto.ClearBytes(password)

	store, err := state.Open(cfg.StatePath())
	if err != nil {
		HandleError(err)
	}
	defer store.Close()

	elevator := elevate.New(cfg.DataDir)
	guard := fileguard.New(store, elevator, cfg.BackupDir)

	// Self-check: a crashed session may have left files immutable with
	// nobody watching them. Verify and restore before going on.
	if stale, serr := guard.StaleProtection(); serr == nil && len(stale) > 0 {
		log.Warn().Int("files", len(stale)).Msg("previous session did not stop cleanly, recovering protected files")
		guard.VerifyAll(ctx)
	}

	if err := store.BeginSession(time.Now()); err != nil {
		HandleError(err)
	}

	if len(cfg.ProtectedPaths) > 0 {
		reportResults(guard.Protect(ctx, cfg.ProtectedPaths))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go guard.Watch(runCtx, cfg.WatcherInterval)

	mon := monitor.New(monitor.Options{
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		RelockAfter:  cfg.RelockAfter,
		Persist: func(reg *vault.Registry, password []byte) error {
			return v.SaveRegistry(password, reg)
		},
	}, nil, v, store)

	if err := mon.Start(runCtx, reg); err != nil {
		HandleError(err)
	}

	go logEvents(runCtx, mon)
	go answerPrompts(runCtx, mon, cfg.MaxAttempts)

	fmt.Printf("Monitoring %d applications, guarding %d files. Ctrl-C to stop.\n",
		len(reg.Apps), len(cfg.ProtectedPaths))
	<-ctx.Done()

	// Scoped release: stop the monitor, lift every file protection, and
	// only then record the clean stop.
	mon.Stop()
	cancel()
	if err := guard.UnprotectAll(context.Background()); err != nil {
		log.Error().Err(err).Msg("failed to release file protection on shutdown")
	}
	if err := store.EndSession(time.Now()); err != nil {
		log.Error().Err(err).Msg("failed to record clean stop")
	}
	fmt.Println("Stopped")
}

// logEvents drains lock-state transitions for the control surface.
func logEvents(ctx context.Context, mon *monitor.Monitor) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-mon.Events():
			log.Info().
				Str("app", ev.AppID).
				Str("group", ev.GroupKey).
				Stringer("from", ev.Old).
				Stringer("to", ev.New).
				Msg("lock state changed")
		}
	}
}

// answerPrompts is the terminal stand-in for the graphical shell: it
// consumes auth requests and feeds password attempts back to the monitor.
func answerPrompts(ctx context.Context, mon *monitor.Monitor, maxAttempts int) {
	for {
		var req *monitor.AuthRequest
		select {
		case <-ctx.Done():
			return
		case req = <-mon.Requests():
		}

		// The request may have resolved while buffered, e.g. the
		// application exited before we got here. Never prompt for those.
		select {
		case <-req.Done():
			continue
		default:
		}

		fmt.Printf("\nLocked application launched: %v\n", req.AppNames)
		for {
			password, err := ReadPassword(fmt.Sprintf("Password (%d attempts max, empty to cancel): ", maxAttempts))
			if err != nil {
				req.Cancel()
				break
			}
			if len(password) == 0 {
				req.Cancel()
				fmt.Println("Cancelled, application terminated")
				break
			}

			serr := req.Submit(password)
			crypto.ClearBytes(password)
			switch {
			case serr == nil:
				fmt.Println("Unlocked")
			case errors.Is(serr, vault.ErrAuthFailed):
				fmt.Println("Wrong password")
				continue
			case errors.Is(serr, monitor.ErrAttemptsExhausted):
				fmt.Println("Too many wrong passwords, application terminated")
			case errors.Is(serr, monitor.ErrRequestClosed):
				fmt.Println("Application exited")
			default:
				fmt.Printf("Error: %s\n", serr)
			}
			break
		}
	}
}
