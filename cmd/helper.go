package cmd

import (
	"fmt"
	"os"

	"github.com/fadsec-lab/applock/internal/elevate"
)

// Helper is the hidden elevated-helper entry point. It runs with raised
// privileges and accepts nothing but the closed verb set, either as a
// session-scoped server or as a one-shot invocation.
//
// Flags are parsed by hand because the one-shot form mixes a verb and
// path arguments: elevated-helper --oneshot <verb> [--out <file>] <path>...
func Helper(args []string) int {
	var serveAddr, outPath, verb string
	var oneshot bool
	var paths []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--socket", "--info":
			i++
			if i >= len(args) {
				fmt.Fprintf(os.Stderr, "Error: %s requires a value\n", args[i-1])
				return 1
			}
			serveAddr = args[i]
		case "--out":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --out requires a value")
				return 1
			}
			outPath = args[i]
		case "--oneshot":
			oneshot = true
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --oneshot requires a verb")
				return 1
			}
			verb = args[i]
		default:
			paths = append(paths, args[i])
		}
	}

	if oneshot {
		if outPath != "" {
			return elevate.RunOneShotFile(verb, paths, outPath)
		}
		return elevate.RunOneShot(verb, paths)
	}

	if err := elevate.ServeSession(serveAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}
