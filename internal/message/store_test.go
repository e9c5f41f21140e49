package message

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hkdb/aerion-sync/internal/database"
)

func newTestStore(t *testing.T) (*Store, int64) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	res, err := db.Exec(`INSERT INTO folders (name) VALUES ('INBOX')`)
	if err != nil {
		t.Fatalf("seed folder: %v", err)
	}
	folderID, _ := res.LastInsertId()
	return NewStore(db), folderID
}

func testEmail(uid uint32, when time.Time) Email {
	return Email{
		UID:          uid,
		Subject:      "hello",
		From:         Address{Name: "Alice", Email: "alice@example.com"},
		To:           []Address{{Email: "bob@example.com"}},
		Flags:        []string{"\\Seen"},
		DateSent:     when,
		DateReceived: when,
		SizeBytes:    123,
	}
}

func TestUpsertEmailsAndGetByUID(t *testing.T) {
	s, folderID := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.UpsertEmails(folderID, []Email{testEmail(1, now)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetByUID(folderID, 1)
	if err != nil {
		t.Fatalf("get by uid: %v", err)
	}
	if got == nil {
		t.Fatal("GetByUID returned nil for a just-inserted message")
	}
	if got.Subject != "hello" || got.From.Email != "alice@example.com" {
		t.Errorf("unexpected email: %+v", got)
	}
	if len(got.To) != 1 || got.To[0].Email != "bob@example.com" {
		t.Errorf("To address round-trip failed: %+v", got.To)
	}
}

func TestUpsertEmailsIsIdempotentOnFlags(t *testing.T) {
	s, folderID := newTestStore(t)
	now := time.Now().UTC()

	e := testEmail(1, now)
	if err := s.UpsertEmails(folderID, []Email{e}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	e.Flags = []string{"\\Seen", "\\Flagged"}
	if err := s.UpsertEmails(folderID, []Email{e}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetByUID(folderID, 1)
	if err != nil {
		t.Fatalf("get by uid: %v", err)
	}
	if !got.HasFlag("\\Flagged") {
		t.Errorf("flags not updated on re-upsert: %v", got.Flags)
	}
}

func TestGetByUIDUnknownReturnsNilNotError(t *testing.T) {
	s, folderID := newTestStore(t)
	got, err := s.GetByUID(folderID, 999)
	if err != nil {
		t.Fatalf("get by uid: %v", err)
	}
	if got != nil {
		t.Errorf("GetByUID(unknown) = %+v, want nil", got)
	}
}

func TestGetPageOrderingAndSlicing(t *testing.T) {
	s, folderID := newTestStore(t)
	base := time.Now().UTC()

	var emails []Email
	for i := uint32(1); i <= 5; i++ {
		emails = append(emails, testEmail(i, base.Add(time.Duration(i)*time.Minute)))
	}
	if err := s.UpsertEmails(folderID, emails); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	page, err := s.GetPage(folderID, 2, 0, false)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page len = %d, want 2", len(page))
	}
	// Newest first: uid 5 then uid 4.
	if page[0].UID != 5 || page[1].UID != 4 {
		t.Errorf("unexpected page order: uids %d, %d", page[0].UID, page[1].UID)
	}

	page2, err := s.GetPage(folderID, 2, 2, false)
	if err != nil {
		t.Fatalf("get page offset 2: %v", err)
	}
	if len(page2) != 2 || page2[0].UID != 3 || page2[1].UID != 2 {
		t.Errorf("unexpected second page: %+v", page2)
	}
}

func TestUpdateFlagsAndDeleteByUID(t *testing.T) {
	s, folderID := newTestStore(t)
	now := time.Now().UTC()
	if err := s.UpsertEmails(folderID, []Email{testEmail(1, now)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.UpdateFlags(folderID, 1, []string{"\\Seen", "\\Flagged"}); err != nil {
		t.Fatalf("update flags: %v", err)
	}
	got, err := s.GetByUID(folderID, 1)
	if err != nil {
		t.Fatalf("get by uid: %v", err)
	}
	if !got.HasFlag("\\Flagged") {
		t.Errorf("UpdateFlags did not persist: %v", got.Flags)
	}

	if err := s.DeleteByUID(folderID, 1); err != nil {
		t.Fatalf("delete by uid: %v", err)
	}
	got, err = s.GetByUID(folderID, 1)
	if err != nil {
		t.Fatalf("get by uid after delete: %v", err)
	}
	if got != nil {
		t.Errorf("GetByUID after DeleteByUID = %+v, want nil", got)
	}
}

func TestCountByFolder(t *testing.T) {
	s, folderID := newTestStore(t)
	now := time.Now().UTC()
	if err := s.UpsertEmails(folderID, []Email{testEmail(1, now), testEmail(2, now)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	count, err := s.CountByFolder(folderID)
	if err != nil {
		t.Fatalf("count by folder: %v", err)
	}
	if count != 2 {
		t.Errorf("CountByFolder = %d, want 2", count)
	}
}
