package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	SessionBucket   = []byte("session")   // monitor session markers
	ProtectedBucket = []byte("protected") // ProtectedFile records
	StatsBucket     = []byte("stats")     // per-app counters
)

// Session keys
var (
	keySessionStarted = []byte("started")
	keySessionStopped = []byte("stopped_clean")
)

// ProtectionState of a guarded file.
type ProtectionState int

const (
	Unprotected ProtectionState = iota
	Protected
)

// ProtectedFile is the persistent record of one guarded path.
type ProtectedFile struct {
	Path           string          `json:"path"`
	BackupPath     string          `json:"backup_path"`
	State          ProtectionState `json:"state"`
	Degraded       bool            `json:"degraded"`
	Hash           string          `json:"hash"`
	OriginalMode   uint32          `json:"original_mode"`
	LastVerifiedAt time.Time       `json:"last_verified_at,omitzero"`
}

// AppStats are the engine-produced counters for one application.
type AppStats struct {
	UnlockCount    int       `json:"unlock_count"`
	WrongAttempts  int       `json:"wrong_attempts"`
	LastUnlockedAt time.Time `json:"last_unlocked_at,omitzero"`
}

// Store is the local bbolt-backed state database. It holds everything the
// engine must remember across restarts that does not belong in the
// encrypted vault: session markers, protected-file records and counters.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the state database.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{SessionBucket, ProtectedBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession records the monitor start and clears the clean-stop marker.
func (s *Store) BeginSession(at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(SessionBucket)
		started, _ := at.MarshalBinary()
		if err := b.Put(keySessionStarted, started); err != nil {
			return err
		}
		return b.Delete(keySessionStopped)
	})
}

// EndSession records a clean monitor stop.
func (s *Store) EndSession(at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		stopped, _ := at.MarshalBinary()
		return tx.Bucket(SessionBucket).Put(keySessionStopped, stopped)
	})
}

// CrashedSession reports whether the last session started but never wrote
// a clean-stop marker. Used by the startup self-check: protected files
// left behind by a crashed session need recovery.
func (s *Store) CrashedSession() (bool, error) {
	var crashed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(SessionBucket)
		crashed = b.Get(keySessionStarted) != nil && b.Get(keySessionStopped) == nil
		return nil
	})
	return crashed, err
}

// PutProtected stores or updates a protected-file record.
func (s *Store) PutProtected(rec ProtectedFile) error {
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal protected record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ProtectedBucket).Put([]byte(rec.Path), data)
	})
}

// GetProtected retrieves a protected-file record. Returns nil when the
// path has no record.
func (s *Store) GetProtected(path string) (*ProtectedFile, error) {
	var rec *ProtectedFile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(ProtectedBucket).Get([]byte(path))
		if data == nil {
			return nil
		}
		rec = &ProtectedFile{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteProtected removes a protected-file record.
func (s *Store) DeleteProtected(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ProtectedBucket).Delete([]byte(path))
	})
}

// ListProtected returns all protected-file records.
func (s *Store) ListProtected() ([]ProtectedFile, error) {
	var records []ProtectedFile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ProtectedBucket).ForEach(func(_, v []byte) error {
			var rec ProtectedFile
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RecordUnlock increments an app's unlock counter.
func (s *Store) RecordUnlock(appID string, at time.Time) error {
	return s.updateStats(appID, func(st *AppStats) {
		st.UnlockCount++
		st.LastUnlockedAt = at
	})
}

// RecordWrongAttempt tallies a failed password attempt for an app.
func (s *Store) RecordWrongAttempt(appID string) error {
	return s.updateStats(appID, func(st *AppStats) {
		st.WrongAttempts++
	})
}

// GetStats returns the counters for an app, zeroed if never seen.
func (s *Store) GetStats(appID string) (AppStats, error) {
	var st AppStats
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(StatsBucket).Get([]byte(appID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &st)
	})
	return st, err
}

func (s *Store) updateStats(appID string, mutate func(*AppStats)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(StatsBucket)
		var st AppStats
		if data := b.Get([]byte(appID)); data != nil {
			if err := json.Unmarshal(data, &st); err != nil {
				return err
			}
		}
		mutate(&st)
		data, err := json.Marshal(&st)
		if err != nil {
			return err
		}
		return b.Put([]byte(appID), data)
	})
}
