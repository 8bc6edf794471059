// Package elevate is the cross-platform privilege-elevation abstraction.
//
// The unprivileged monitor never performs privileged work itself. It
// obtains an ElevationSession lazily — preferring a session-scoped helper
// that prompts the user once (pkexec-launched unix-socket daemon on
// Linux, UAC-launched loopback helper on Windows) and degrading to one
// prompt per call — and dispatches a closed verb set (protect, unprotect,
// disable-tools, enable-tools) plus explicit path lists to it. Verbs
// apply per path and report per-path results, so a batch is never
// partially applied in silence.
package elevate
