// Package crypto provides cryptographic operations for applock.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the master password via PBKDF2
//   - 12-byte random nonce per encryption operation
//   - Authenticated encryption prevents tampering
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 32-byte random salt (stored unencrypted in the vault header)
//   - 210,000 iterations (OWASP minimum recommendation)
//
// The password verifier stored in the vault header is a domain-separated
// SHA-256 of the derived key, compared in constant time. Recovery codes
// are hashed with per-code salts at full KDF cost.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
