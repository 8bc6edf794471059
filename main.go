package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fadsec-lab/applock/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "add":
		runAdd(os.Args[2:])
	case "rm":
		runRm(os.Args[2:])
	case "ls":
		runLs(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "start":
		runStart(ctx, os.Args[2:])
	case "passwd":
		runPasswd(os.Args[2:])
	case "recover":
		runRecover(os.Args[2:])
	case "protect":
		runProtect(ctx, os.Args[2:])
	case "unprotect":
		runUnprotect(ctx, os.Args[2:])
	case "keyring":
		runKeyring(os.Args[2:])
	case "elevated-helper":
		// Hidden entry point re-executed with raised privileges.
		os.Exit(cmd.Helper(os.Args[2:]))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// configFlag registers the shared -config flag on a flag set.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Config file path (default: per-user config dir)")
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)
	cmd.Init(*cfgPath)
}

func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	cfgPath := configFlag(fs)
	id := fs.String("id", "", "Application id (required)")
	name := fs.String("name", "", "Display name (defaults to id)")
	path := fs.String("path", "", "Executable path")
	pattern := fs.String("pattern", "", "Process name pattern (defaults to path basename)")
	group := fs.String("group", "", "Group key for family matching (e.g. chrome)")
	parseOrExit(fs, args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		os.Exit(1)
	}
	if *pattern == "" && *path == "" {
		fmt.Fprintln(os.Stderr, "Error: one of -pattern or -path is required")
		os.Exit(1)
	}
	displayName := *name
	if displayName == "" {
		displayName = *id
	}
	cmd.Add(*cfgPath, *id, displayName, *path, *pattern, *group)
}

func runRm(args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: applock rm <id>")
		os.Exit(1)
	}
	cmd.Remove(*cfgPath, fs.Arg(0))
}

func runLs(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)
	cmd.List(*cfgPath)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)
	cmd.Status(*cfgPath)
}

func runStart(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)
	cmd.Start(ctx, *cfgPath)
}

func runPasswd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)
	cmd.Passwd(*cfgPath)
}

func runRecover(args []string) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: applock recover <code>")
		os.Exit(1)
	}
	cmd.Recover(*cfgPath, fs.Arg(0))
}

func runProtect(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("protect", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: applock protect <path>...")
		os.Exit(1)
	}
	cmd.Protect(ctx, *cfgPath, fs.Args())
}

func runUnprotect(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("unprotect", flag.ExitOnError)
	cfgPath := configFlag(fs)
	all := fs.Bool("all", false, "Release every protected file")
	parseOrExit(fs, args)

	if fs.NArg() == 0 && !*all {
		fmt.Fprintln(os.Stderr, "Usage: applock unprotect [-all] <path>...")
		os.Exit(1)
	}
	cmd.Unprotect(ctx, *cfgPath, fs.Args())
}

func runKeyring(args []string) {
	fs := flag.NewFlagSet("keyring", flag.ExitOnError)
	cfgPath := configFlag(fs)
	parseOrExit(fs, args)

	if fs.NArg() != 1 || (fs.Arg(0) != "save" && fs.Arg(0) != "clear") {
		fmt.Fprintln(os.Stderr, "Usage: applock keyring <save|clear>")
		os.Exit(1)
	}
	if fs.Arg(0) == "save" {
		cmd.KeyringSave(*cfgPath)
	} else {
		cmd.KeyringClear(*cfgPath)
	}
}

func printUsage() {
	fmt.Println(`applock - lock applications behind a master password and guard critical files

Usage: applock <command> [options]

Commands:
  init                Create the encrypted vault and print recovery codes
  add                 Register an application to lock
  rm <id>             Remove a registered application
  ls                  List registered applications
  status              Show vault, monitor and file-protection state
  start               Run the monitor and file-protection watcher
  passwd              Change the master password
  recover <code>      Reset the vault with a recovery code
  protect <path>...   Guard files against deletion and tampering
  unprotect [-all]    Release guarded files
  keyring save|clear  Cache or remove the master password in the OS keyring
  help                Show this message

Common options:
  -config <file>      Config file path (default: per-user config dir)

Environment:
  APPLOCK_PASSWORD    Master password for non-interactive use
  APPLOCK_CONFIG      Config file path override`)
}
