// Package monitor polls running processes, matches them against the
// locked-application registry and drives the per-group lock state
// machine: Locked -> PendingAuth -> Unlocked -> Locked. Processes that
// belong to one logical application (several windows of one browser) are
// treated as a single group: one prompt unlocks them all, and the group
// relocks only after every member has exited.
package monitor
