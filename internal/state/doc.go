// Package state provides the bbolt-backed local state database.
//
// Layout:
//   - session: monitor session markers. A start marker without a matching
//     clean-stop marker means the previous session crashed while files may
//     still be protected.
//   - protected: one record per guarded path (backup location, protection
//     state, content hash, original mode).
//   - stats: per-app unlock and wrong-attempt counters.
//
// The encrypted application registry does NOT live here; it is sealed
// inside the vault file. Values read inside a transaction are copied or
// decoded before the transaction closes.
package state
