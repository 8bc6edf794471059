package vault

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/fadsec-lab/applock/internal/crypto"
)

const (
	// Recovery code format: 4 groups of 4 uppercase alphanumerics,
	// e.g. ABCD-EFGH-IJKL-MNOP. Case and separators are ignored on entry.
	codeChars     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroupLen  = 4
	codeGroups    = 4
	TotalCodes    = 10
	codeSaltSize  = 32
	codeHashIters = 100000
)

var ErrInvalidCode = errors.New("invalid recovery code")

// codeEntry is one hashed recovery code. Hashes are salted PBKDF2, so the
// store can be read (and verified) without the master password while still
// keeping the codes unrecoverable.
type codeEntry struct {
	Salt   string     `json:"salt"`
	Hash   string     `json:"hash"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

type recoveryStore struct {
	Version int         `json:"version"`
	Created time.Time   `json:"created"`
	Codes   []codeEntry `json:"codes"`
}

// GenerateCodes produces n unique recovery codes.
func GenerateCodes(n int) ([]string, error) {
	seen := make(map[string]bool, n)
	codes := make([]string, 0, n)
	for len(codes) < n {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

func generateCode() (string, error) {
	groups := make([]string, codeGroups)
	var b strings.Builder
	for g := range groups {
		b.Reset()
		for i := 0; i < codeGroupLen; i++ {
			idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
			if err != nil {
				return "", fmt.Errorf("failed to generate recovery code: %w", err)
			}
			b.WriteByte(codeChars[idx.Int64()])
		}
		groups[g] = b.String()
	}
	return strings.Join(groups, "-"), nil
}

// normalizeCode strips separators and upper-cases a human-entered code.
func normalizeCode(code string) string {
	code = strings.ToUpper(code)
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

func writeRecoveryStore(path string, codes []string) error {
	store := recoveryStore{
		Version: 1,
		Created: time.Now(),
		Codes:   make([]codeEntry, 0, len(codes)),
	}
	for _, code := range codes {
		salt, err := crypto.GenerateRandom(codeSaltSize)
		if err != nil {
			return err
		}
		hash := crypto.HashCode(normalizeCode(code), salt, codeHashIters)
		store.Codes = append(store.Codes, codeEntry{
			Salt: hex.EncodeToString(salt),
			Hash: hex.EncodeToString(hash),
		})
	}
	data, err := json.MarshalIndent(&store, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal recovery codes: %w", err)
	}
	return writeFileAtomic(path, data, FilePermSecure)
}

// RedeemRecoveryCode validates a code against the stored hashes. On
// success the code is invalidated immediately (single use) and a
// ResetGrant is returned, allowing a vault reset without the old
// password. Fails with ErrInvalidCode for unknown or already-used codes.
func (v *Vault) RedeemRecoveryCode(code string) (*ResetGrant, error) {
	data, err := os.ReadFile(v.recoveryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read recovery codes: %w", err)
	}

	var store recoveryStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("failed to parse recovery codes: %w", err)
	}

	normalized := normalizeCode(code)
	for i := range store.Codes {
		entry := &store.Codes[i]
		if entry.Used {
			continue
		}
		salt, err := hex.DecodeString(entry.Salt)
		if err != nil {
			continue
		}
		want, err := hex.DecodeString(entry.Hash)
		if err != nil {
			continue
		}
		got := crypto.HashCode(normalized, salt, codeHashIters)
		if !crypto.ConstantTimeCompare(got, want) {
			continue
		}

		// Invalidate before handing out the grant so a crash between
		// redemption and reset cannot replay the code.
		now := time.Now()
		entry.Used = true
		entry.UsedAt = &now
		updated, err := json.MarshalIndent(&store, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recovery codes: %w", err)
		}
		if err := writeFileAtomic(v.recoveryPath, updated, FilePermSecure); err != nil {
			return nil, fmt.Errorf("failed to invalidate recovery code: %w", err)
		}
		return &ResetGrant{vault: v}, nil
	}

	return nil, ErrInvalidCode
}

// RemainingCodes reports how many recovery codes are still unused.
func (v *Vault) RemainingCodes() (int, error) {
	data, err := os.ReadFile(v.recoveryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotInitialized
		}
		return 0, fmt.Errorf("failed to read recovery codes: %w", err)
	}
	var store recoveryStore
	if err := json.Unmarshal(data, &store); err != nil {
		return 0, fmt.Errorf("failed to parse recovery codes: %w", err)
	}
	remaining := 0
	for _, entry := range store.Codes {
		if !entry.Used {
			remaining++
		}
	}
	return remaining, nil
}
