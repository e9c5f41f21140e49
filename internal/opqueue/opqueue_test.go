package opqueue

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
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO folders (name) VALUES ('INBOX')`); err != nil {
		t.Fatalf("seed folder: %v", err)
	}
	return NewStore(db.DB)
}

func TestEnqueueAndPending(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue(1, 42, OpMarkRead, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == 0 {
		t.Fatal("enqueue returned id 0")
	}

	pending, err := s.Pending(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending: got %d ops, want 1", len(pending))
	}
	op := pending[0]
	if op.UID != 42 || op.Type != OpMarkRead || op.FolderID != 1 {
		t.Errorf("unexpected op: %+v", op)
	}
}

func TestMarkProcessedSuccess(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Enqueue(1, 1, OpMarkRead, "")

	if err := s.MarkProcessed(id, nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	pending, err := s.Pending(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after success = %d, want 0", len(pending))
	}
}

func TestMarkProcessedTransientRetriesUntilAttemptCap(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Enqueue(1, 1, OpMarkRead, "")

	transientErr := errors.New("connection reset")
	for i := 0; i < maxAttempts; i++ {
		if err := s.MarkProcessed(id, transientErr); err != nil {
			t.Fatalf("mark processed (attempt %d): %v", i, err)
		}
	}

	pending, err := s.Pending(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after hitting attempt cap = %d, want 0 (excluded, not retried forever)", len(pending))
	}

	var processed int
	var lastError string
	if err := s.db.QueryRow(`SELECT processed, last_error FROM email_operations WHERE id = ?`, id).
		Scan(&processed, &lastError); err != nil {
		t.Fatalf("query op: %v", err)
	}
	if processed == 0 {
		t.Error("op stuck at the attempt cap: never transitioned to processed, so it would never surface as failed")
	}
	if lastError != transientErr.Error() {
		t.Errorf("last_error = %q, want %q", lastError, transientErr.Error())
	}
}

func TestMarkFailedIsPermanent(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Enqueue(1, 1, OpDelete, "")

	if err := s.MarkFailed(id, errors.New("bad uid")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := s.Pending(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after MarkFailed = %d, want 0", len(pending))
	}
}
