// Package fileguard protects critical files against modification and
// deletion. Each protected file gets a backup copy before anything is
// made immutable, a persistent record in the state store, and a
// periodic watcher pass that restores the file from its backup when it
// is deleted or tampered with.
package fileguard
