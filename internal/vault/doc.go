// Package vault implements the encrypted credential and registry store.
//
// The master credential record is a single binary file:
//
//	magic "ALK1" | version | kdf id | iterations | salt | verifier | AEAD payload
//
// Header fields are unencrypted; the payload is the JSON registry of
// locked applications sealed with AES-256-GCM under a PBKDF2-derived key.
// Every write goes through a write-to-temp-then-rename path, and a backup
// copy in a separate directory is refreshed on each write and consulted
// automatically when the primary fails its integrity check.
//
// Recovery codes are generated once at vault creation, handed to the user
// in plain form, and persisted only as salted PBKDF2 hashes in a sidecar
// file so they can be verified without the master password. Each code is
// single use and redemption yields a one-shot reset grant.
package vault
