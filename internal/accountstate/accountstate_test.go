package accountstate

import (
	"errors"
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
	return NewStore(db.DB)
}

func TestNewAccountIsNotSuspended(t *testing.T) {
	s := newTestStore(t)
	suspended, err := s.IsSuspended()
	if err != nil {
		t.Fatalf("is suspended: %v", err)
	}
	if suspended {
		t.Error("a freshly migrated account should not start suspended")
	}
}

func TestSuspendThenClear(t *testing.T) {
	s := newTestStore(t)

	if err := s.Suspend(errors.New("bad password")); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	state, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !state.Suspended || state.LastAuthError != "bad password" {
		t.Errorf("state after suspend = %+v", state)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	state, err = s.Get()
	if err != nil {
		t.Fatalf("get after clear: %v", err)
	}
	if state.Suspended || state.LastAuthError != "" {
		t.Errorf("state after clear = %+v, want cleared", state)
	}
}
