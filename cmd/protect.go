package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fadsec-lab/applock/internal/elevate"
	"github.com/fadsec-lab/applock/internal/fileguard"
	"github.com/fadsec-lab/applock/internal/state"
)

// Protect guards the given paths immediately, outside a monitor session.
func Protect(ctx context.Context, cfgPath string, paths []string) {
	withGuard(cfgPath, func(g *fileguard.Guard) []fileguard.Result {
		return g.Protect(ctx, paths)
	})
}

// Unprotect releases the given paths; with none given, every protected
// file is released. Used after a crash and on uninstall.
func Unprotect(ctx context.Context, cfgPath string, paths []string) {
	if len(paths) == 0 {
		withGuard(cfgPath, func(g *fileguard.Guard) []fileguard.Result {
			if err := g.UnprotectAll(ctx); err != nil {
				HandleError(err)
			}
			fmt.Println("All files unprotected")
			return nil
		})
		return
	}
	withGuard(cfgPath, func(g *fileguard.Guard) []fileguard.Result {
		return g.Unprotect(ctx, paths)
	})
}

func withGuard(cfgPath string, fn func(*fileguard.Guard) []fileguard.Result) {
	cfg := LoadConfigOrExit(cfgPath)
	store, err := state.Open(cfg.StatePath())
	if err != nil {
		HandleError(err)
	}
	defer store.Close()

	guard := fileguard.New(store, elevate.New(cfg.DataDir), cfg.BackupDir)
	reportResults(fn(guard))
}

// reportResults prints the per-path outcome list. Partial failures stay
// visible: one bad path never hides the others.
func reportResults(results []fileguard.Result) {
	failed := false
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", r.Path, r.Err)
			failed = true
		case r.Degraded:
			fmt.Printf("%s: protected (degraded: permissions only, no elevation available)\n", r.Path)
		default:
			fmt.Printf("%s: ok\n", r.Path)
		}
	}
	if failed {
		os.Exit(1)
	}
}
