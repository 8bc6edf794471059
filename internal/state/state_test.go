package state

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionMarkers(t *testing.T) {
	s := openTestStore(t)

	crashed, err := s.CrashedSession()
	if err != nil {
		t.Fatalf("CrashedSession failed: %v", err)
	}
	if crashed {
		t.Error("Fresh store should not report a crashed session")
	}

	if err := s.BeginSession(time.Now()); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	crashed, _ = s.CrashedSession()
	if !crashed {
		t.Error("Started session without clean stop should report crashed")
	}

	if err := s.EndSession(time.Now()); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	crashed, _ = s.CrashedSession()
	if crashed {
		t.Error("Cleanly stopped session should not report crashed")
	}

	// Next start clears the previous clean-stop marker
	if err := s.BeginSession(time.Now()); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	crashed, _ = s.CrashedSession()
	if !crashed {
		t.Error("New session should clear the stop marker")
	}
}

func TestProtectedRecords(t *testing.T) {
	s := openTestStore(t)

	rec := ProtectedFile{
		Path:       "/etc/critical.conf",
		BackupPath: "/var/backups/abc-critical.conf",
		State:      Protected,
		Hash:       "deadbeef",
	}
	if err := s.PutProtected(rec); err != nil {
		t.Fatalf("PutProtected failed: %v", err)
	}

	got, err := s.GetProtected(rec.Path)
	if err != nil {
		t.Fatalf("GetProtected failed: %v", err)
	}
	if got == nil || got.BackupPath != rec.BackupPath || got.State != Protected {
		t.Errorf("Record mismatch: %+v", got)
	}

	missing, err := s.GetProtected("/no/such/path")
	if err != nil {
		t.Fatalf("GetProtected failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown path, got %+v", missing)
	}

	list, err := s.ListProtected()
	if err != nil {
		t.Fatalf("ListProtected failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(list))
	}

	if err := s.DeleteProtected(rec.Path); err != nil {
		t.Fatalf("DeleteProtected failed: %v", err)
	}
	list, _ = s.ListProtected()
	if len(list) != 0 {
		t.Errorf("Expected empty list after delete, got %d", len(list))
	}
}

func TestStatsCounters(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	if err := s.RecordUnlock("calc", now); err != nil {
		t.Fatalf("RecordUnlock failed: %v", err)
	}
	if err := s.RecordWrongAttempt("calc"); err != nil {
		t.Fatalf("RecordWrongAttempt failed: %v", err)
	}
	if err := s.RecordWrongAttempt("calc"); err != nil {
		t.Fatalf("RecordWrongAttempt failed: %v", err)
	}

	st, err := s.GetStats("calc")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.UnlockCount != 1 || st.WrongAttempts != 2 {
		t.Errorf("Stats = %+v, want 1 unlock and 2 wrong attempts", st)
	}
	if st.LastUnlockedAt.IsZero() {
		t.Error("LastUnlockedAt not set")
	}

	empty, err := s.GetStats("never-seen")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if empty.UnlockCount != 0 {
		t.Errorf("Unknown app should have zero stats, got %+v", empty)
	}
}
