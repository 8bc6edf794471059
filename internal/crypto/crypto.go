package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize     = 32     // Salt size in bytes
	KeySize      = 32     // AES-256 key size
	NonceSize    = 12     // GCM nonce size
	TagSize      = 16     // GCM authentication tag size
	VerifierSize = 32     // SHA-256 verifier size
	DefaultIters = 210000 // Default PBKDF2 iterations (OWASP minimum)
)

// verifierContext domain-separates the password verifier from the
// encryption key it is derived from.
const verifierContext = "applock-password-verifier-v1"

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
)

// KDF handles key derivation from passwords
type KDF struct {
	Salt       []byte
	Iterations int
}

// NewKDF creates a new KDF with a random salt
func NewKDF() (*KDF, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return &KDF{
		Salt:       salt,
		Iterations: DefaultIters,
	}, nil
}

// DeriveKey derives an encryption key from a password
func (k *KDF) DeriveKey(password []byte) []byte {
	return pbkdf2.Key(password, k.Salt, k.Iterations, KeySize, sha256.New)
}

// Verifier computes the stored password verifier for a derived key.
// It is a one-way function of the key, so the vault header can prove a
// candidate password correct without revealing key material.
func Verifier(key []byte) []byte {
	h := sha256.New()
	h.Write([]byte(verifierContext))
	h.Write(key)
	return h.Sum(nil)
}

// HashCode hashes a normalized recovery code with its own salt.
// Code hashes are stored without password protection, so the full KDF
// cost applies to each one.
func HashCode(code string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(code), salt, iterations, KeySize, sha256.New)
}

// Encryptor provides authenticated encryption
type Encryptor struct {
	key []byte
}

// NewEncryptor creates a new encryptor with the given key
func NewEncryptor(key []byte) *Encryptor {
	return &Encryptor{
		key: key,
	}
}

// Encrypt encrypts plaintext using AES-256-GCM
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	// Prepend nonce to ciphertext
	result := make([]byte, NonceSize+len(ciphertext))
	copy(result, nonce)
	copy(result[NonceSize:], ciphertext)

	return result, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM. The authentication tag
// is validated by GCM, so tampering surfaces as ErrAuthFailed.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := ciphertext[:NonceSize]
	ciphertext = ciphertext[NonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// Destroy clears the encryptor's key from memory
func (e *Encryptor) Destroy() {
	ClearBytes(e.key)
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
