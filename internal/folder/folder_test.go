package folder

import (
	"path/filepath"
	"testing"

	"github.com/hkdb/aerion-sync/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db.DB)
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.Upsert("INBOX", TypeInbox)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id2, err := s.Upsert("INBOX", TypeInbox)
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert same name twice returned different ids: %d, %d", id1, id2)
	}

	folders, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(folders) != 1 {
		t.Fatalf("list after double upsert = %d folders, want 1", len(folders))
	}
}

func TestRequestFullSyncResetsWatermarks(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Upsert("INBOX", TypeInbox)

	if err := s.AdvanceLastUIDSeen(id, 100); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.RecordSyncResult(id, 50, nil); err != nil {
		t.Fatalf("record sync result: %v", err)
	}

	if err := s.RequestFullSync(id); err != nil {
		t.Fatalf("request full sync: %v", err)
	}

	f, err := s.GetByID(id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if f.LastUIDSeen != 0 {
		t.Errorf("LastUIDSeen after RequestFullSync = %d, want 0", f.LastUIDSeen)
	}
	if f.TotalMessages != 0 {
		t.Errorf("TotalMessages after RequestFullSync = %d, want 0", f.TotalMessages)
	}
	if !f.ForceFullSync {
		t.Error("ForceFullSync should be true after RequestFullSync")
	}
}

func TestClearFullSync(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Upsert("INBOX", TypeInbox)
	_ = s.RequestFullSync(id)

	if err := s.ClearFullSync(id); err != nil {
		t.Fatalf("clear full sync: %v", err)
	}
	f, err := s.Get("INBOX")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f.ForceFullSync {
		t.Error("ForceFullSync should be false after ClearFullSync")
	}
}

func TestAdvanceLastUIDSeenNeverGoesBackwards(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Upsert("INBOX", TypeInbox)

	if err := s.AdvanceLastUIDSeen(id, 100); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.AdvanceLastUIDSeen(id, 50); err != nil {
		t.Fatalf("advance lower: %v", err)
	}

	f, err := s.GetByID(id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if f.LastUIDSeen != 100 {
		t.Errorf("LastUIDSeen = %d, want 100 (should never regress)", f.LastUIDSeen)
	}
}

func TestGetByIDUnknown(t *testing.T) {
	s := newTestStore(t)
	f, err := s.GetByID(999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if f != nil {
		t.Errorf("GetByID(999) = %+v, want nil", f)
	}
}
