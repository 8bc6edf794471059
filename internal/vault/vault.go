package vault

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fadsec-lab/applock/internal/crypto"
	"github.com/rs/zerolog/log"
)

const (
	VaultFile    = "vault.bin"
	RecoveryFile = "recovery.json"

	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only

	kdfPBKDF2SHA256 = 1 // KDF algorithm id in the header

	formatVersion = 1
)

// vaultMagic identifies an applock vault record.
var vaultMagic = [4]byte{'A', 'L', 'K', '1'}

// headerSize is magic(4) + version(1) + kdf id(1) + iterations(4) +
// salt(32) + verifier(32).
const headerSize = 4 + 1 + 1 + 4 + crypto.SaltSize + crypto.VerifierSize

var (
	ErrNotInitialized     = errors.New("vault not initialized")
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrIntegrityCheck     = errors.New("vault integrity check failed")
)

// Vault is the encrypted credential and registry store. The master
// credential record lives in a single binary file; a backup copy is kept
// in a separate directory and consulted automatically when the primary
// fails its integrity check.
type Vault struct {
	path         string
	backupPath   string
	recoveryPath string
}

// New creates a Vault handle rooted at dataDir with its backup copy under
// backupDir. No files are touched until Create or an unlock operation.
func New(dataDir, backupDir string) *Vault {
	return &Vault{
		path:         filepath.Join(dataDir, VaultFile),
		backupPath:   filepath.Join(backupDir, VaultFile),
		recoveryPath: filepath.Join(dataDir, RecoveryFile),
	}
}

// Path returns the primary vault file location.
func (v *Vault) Path() string { return v.path }

// BackupPath returns the backup copy location.
func (v *Vault) BackupPath() string { return v.backupPath }

// Exists reports whether a master credential record is present.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// record is a parsed master credential record.
type record struct {
	kdf      crypto.KDF
	verifier []byte
	payload  []byte // nonce || ciphertext || tag
}

func (r *record) encode() []byte {
	buf := make([]byte, 0, headerSize+len(r.payload))
	buf = append(buf, vaultMagic[:]...)
	buf = append(buf, formatVersion, kdfPBKDF2SHA256)
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.kdf.Iterations))
	buf = append(buf, r.kdf.Salt...)
	buf = append(buf, r.verifier...)
	buf = append(buf, r.payload...)
	return buf
}

func parseRecord(data []byte) (*record, error) {
	if len(data) < headerSize+crypto.NonceSize+crypto.TagSize {
		return nil, ErrIntegrityCheck
	}
	if !bytes.Equal(data[:4], vaultMagic[:]) {
		return nil, ErrIntegrityCheck
	}
	if data[4] != formatVersion || data[5] != kdfPBKDF2SHA256 {
		return nil, fmt.Errorf("unsupported vault format: version %d kdf %d", data[4], data[5])
	}
	iters := binary.BigEndian.Uint32(data[6:10])
	off := 10
	r := &record{
		kdf: crypto.KDF{
			Salt:       append([]byte(nil), data[off:off+crypto.SaltSize]...),
			Iterations: int(iters),
		},
	}
	off += crypto.SaltSize
	r.verifier = append([]byte(nil), data[off:off+crypto.VerifierSize]...)
	off += crypto.VerifierSize
	r.payload = append([]byte(nil), data[off:]...)
	return r, nil
}

// verify derives a key from the candidate password and compares it to the
// stored verifier in constant time. On success the derived key is
// returned; the caller must clear it.
func (r *record) verify(password []byte) ([]byte, error) {
	key := r.kdf.DeriveKey(password)
	if !crypto.ConstantTimeCompare(crypto.Verifier(key), r.verifier) {
		crypto.ClearBytes(key)
		return nil, ErrAuthFailed
	}
	return key, nil
}

// open verifies the password and decrypts the registry payload.
func (r *record) open(password []byte) (*Registry, []byte, error) {
	key, err := r.verify(password)
	if err != nil {
		return nil, nil, err
	}

	enc := crypto.NewEncryptor(key)
	plaintext, err := enc.Decrypt(r.payload)
	if err != nil {
		crypto.ClearBytes(key)
		// The verifier matched, so the password is right and the
		// payload itself is damaged.
		return nil, nil, ErrIntegrityCheck
	}

	var reg Registry
	if err := json.Unmarshal(plaintext, &reg); err != nil {
		crypto.ClearBytes(plaintext)
		crypto.ClearBytes(key)
		return nil, nil, ErrIntegrityCheck
	}
	crypto.ClearBytes(plaintext)
	reg.normalize()
	return &reg, key, nil
}

// loadPrimary reads and parses the primary record.
func (v *Vault) loadPrimary() (*record, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}
	return parseRecord(data)
}

// loadBackup reads and parses the backup copy.
func (v *Vault) loadBackup() (*record, error) {
	data, err := os.ReadFile(v.backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault backup: %w", err)
	}
	return parseRecord(data)
}

// Create initializes the master credential record with an empty registry
// and returns the generated one-time recovery codes. Fails with
// ErrAlreadyInitialized if a record exists; an existing record is never
// silently regenerated.
func (v *Vault) Create(password []byte) ([]string, error) {
	if v.Exists() {
		return nil, ErrAlreadyInitialized
	}
	codes, err := v.initRecord(password, NewRegistry())
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// initRecord writes a fresh record, backup copy and recovery codes.
func (v *Vault) initRecord(password []byte, reg *Registry) ([]string, error) {
	kdf, err := crypto.NewKDF()
	if err != nil {
		return nil, fmt.Errorf("failed to create KDF: %w", err)
	}

	key := kdf.DeriveKey(password)
	defer crypto.ClearBytes(key)

	rec := &record{kdf: *kdf, verifier: crypto.Verifier(key)}
	if err := v.sealRegistry(rec, key, reg); err != nil {
		return nil, err
	}
	if err := v.writeRecord(rec); err != nil {
		return nil, err
	}

	codes, err := GenerateCodes(TotalCodes)
	if err != nil {
		return nil, err
	}
	if err := writeRecoveryStore(v.recoveryPath, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// sealRegistry encrypts reg into rec.payload under key.
func (v *Vault) sealRegistry(rec *record, key []byte, reg *Registry) error {
	plaintext, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	enc := crypto.NewEncryptor(key)
	payload, err := enc.Encrypt(plaintext)
	crypto.ClearBytes(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt registry: %w", err)
	}
	rec.payload = payload
	return nil
}

// writeRecord writes the record atomically and refreshes the backup copy.
func (v *Vault) writeRecord(rec *record) error {
	data := rec.encode()
	if err := writeFileAtomic(v.path, data, FilePermSecure); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := writeFileAtomic(v.backupPath, data, FilePermSecure); err != nil {
		return fmt.Errorf("failed to write vault backup: %w", err)
	}
	return nil
}

// Verify checks a candidate master password. It never mutates vault
// state and reveals nothing beyond match or mismatch.
func (v *Vault) Verify(password []byte) error {
	rec, err := v.loadPrimary()
	if err != nil {
		if errors.Is(err, ErrIntegrityCheck) {
			if rec, err = v.loadBackup(); err != nil {
				return ErrIntegrityCheck
			}
		} else {
			return err
		}
	}
	key, err := rec.verify(password)
	if err != nil {
		return err
	}
	crypto.ClearBytes(key)
	return nil
}

// Unlock verifies the password and returns the decrypted registry. An
// integrity failure on the primary record triggers a transparent retry
// against the backup copy before anything surfaces to the caller.
func (v *Vault) Unlock(password []byte) (*Registry, error) {
	reg, key, err := v.open(password)
	if err != nil {
		return nil, err
	}
	crypto.ClearBytes(key)
	return reg, nil
}

func (v *Vault) open(password []byte) (*Registry, []byte, error) {
	rec, err := v.loadPrimary()
	if err == nil {
		reg, key, oerr := rec.open(password)
		if oerr == nil {
			return reg, key, nil
		}
		err = oerr
	}
	if !errors.Is(err, ErrIntegrityCheck) {
		return nil, nil, err
	}

	log.Warn().Str("vault", v.path).Msg("primary vault failed integrity check, trying backup copy")
	rec, berr := v.loadBackup()
	if berr != nil {
		return nil, nil, ErrIntegrityCheck
	}
	reg, key, berr := rec.open(password)
	if berr != nil {
		return nil, nil, berr
	}
	// The backup is good; heal the primary from it.
	if werr := writeFileAtomic(v.path, rec.encode(), FilePermSecure); werr != nil {
		log.Warn().Err(werr).Msg("failed to restore primary vault from backup")
	}
	return reg, key, nil
}

// SaveRegistry re-encrypts the registry under the current password and
// writes it atomically.
func (v *Vault) SaveRegistry(password []byte, reg *Registry) error {
	rec, err := v.loadPrimary()
	if err != nil {
		return err
	}
	key, err := rec.verify(password)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)

	if err := v.sealRegistry(rec, key, reg); err != nil {
		return err
	}
	return v.writeRecord(rec)
}

// ChangePassword re-encrypts the record under a key derived from the new
// password. The write is atomic, so a crash mid-change never corrupts
// the existing record, and a wrong old password leaves it untouched.
func (v *Vault) ChangePassword(old, new []byte) error {
	reg, oldKey, err := v.open(old)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return ErrInvalidCredential
		}
		return err
	}
	crypto.ClearBytes(oldKey)

	kdf, err := crypto.NewKDF()
	if err != nil {
		return fmt.Errorf("failed to create KDF: %w", err)
	}
	newKey := kdf.DeriveKey(new)
	defer crypto.ClearBytes(newKey)

	rec := &record{kdf: *kdf, verifier: crypto.Verifier(newKey)}
	if err := v.sealRegistry(rec, newKey, reg); err != nil {
		return err
	}
	return v.writeRecord(rec)
}

// ResetGrant authorizes one vault reset without the old password. It is
// only obtainable by redeeming an unused recovery code.
type ResetGrant struct {
	vault *Vault
	used  bool
}

// Reset replaces the master credential record with a fresh one. The old
// registry is unrecoverable without the old password, so the new vault
// starts empty. Returns the new recovery codes.
func (g *ResetGrant) Reset(password []byte) ([]string, error) {
	if g.used {
		return nil, errors.New("reset grant already used")
	}
	g.used = true
	if err := os.Remove(g.vault.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove vault record: %w", err)
	}
	if err := os.Remove(g.vault.backupPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove vault backup: %w", err)
	}
	return g.vault.initRecord(password, NewRegistry())
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPermSecure); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
