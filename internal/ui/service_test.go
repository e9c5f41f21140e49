package ui

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hkdb/aerion-sync/internal/account"
	"github.com/hkdb/aerion-sync/internal/database"
	"github.com/hkdb/aerion-sync/internal/dirtyflag"
	"github.com/hkdb/aerion-sync/internal/folder"
	"github.com/hkdb/aerion-sync/internal/message"
	"github.com/hkdb/aerion-sync/internal/opqueue"
)

func newTestService(t *testing.T) (*Service, int64) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	folders := folder.NewStore(db.DB)
	messages := message.NewStore(db)
	ops := opqueue.NewStore(db.DB)

	folderID, err := folders.Upsert("INBOX", folder.TypeInbox)
	if err != nil {
		t.Fatalf("upsert folder: %v", err)
	}

	now := time.Now().UTC()
	err = messages.UpsertEmails(folderID, []message.Email{
		{UID: 1, Subject: "one", Flags: []string{}, DateSent: now, DateReceived: now},
		{UID: 2, Subject: "two", Flags: []string{}, DateSent: now, DateReceived: now},
	})
	if err != nil {
		t.Fatalf("seed messages: %v", err)
	}

	acc := account.Account{Key: "acct1", Name: "Test Account"}
	handles := map[string]*AccountHandle{
		"acct1": {Account: acc, Folders: folders, Messages: messages, Ops: ops},
	}
	svc := NewService([]account.Account{acc}, handles, dirtyflag.New())
	return svc, folderID
}

func TestListAccountsAndFolders(t *testing.T) {
	svc, _ := newTestService(t)

	accs := svc.ListAccounts()
	if len(accs) != 1 || accs[0].Key != "acct1" {
		t.Fatalf("ListAccounts = %+v", accs)
	}

	folders, err := svc.ListFolders("acct1")
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "INBOX" {
		t.Fatalf("ListFolders = %+v", folders)
	}
}

func TestListFoldersUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ListFolders("nope"); err == nil {
		t.Error("ListFolders(unknown account) should return an error")
	}
}

func TestPageReturnsNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	page, err := svc.Page("acct1", "INBOX", 0, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page = %+v, want 2 entries", page)
	}
	if page[0].UID != 2 {
		t.Errorf("page[0].UID = %d, want 2 (newest first)", page[0].UID)
	}
}

func TestPageBeyondWindowReturnsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	page, err := svc.Page("acct1", "INBOX", 5, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("page beyond available rows = %+v, want empty", page)
	}
}

func TestQueueAppliesOptimisticMutation(t *testing.T) {
	svc, folderID := newTestService(t)

	got, err := svc.Queue("acct1", "INBOX", 1, opqueue.OpMarkRead, "")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if got == nil || !got.HasFlag("\\Seen") {
		t.Fatalf("Queue(mark_read) did not apply optimistic flag: %+v", got)
	}

	// The underlying store must be untouched until the sync engine
	// actually drains the op; only the display copy is mutated.
	stored, err := svc.handles["acct1"].Messages.GetByUID(folderID, 1)
	if err != nil {
		t.Fatalf("get by uid: %v", err)
	}
	if stored.HasFlag("\\Seen") {
		t.Error("Queue() must not mutate the underlying store directly")
	}

	pending, err := svc.handles["acct1"].Ops.Pending(10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].UID != 1 || pending[0].Type != opqueue.OpMarkRead {
		t.Errorf("Queue() did not enqueue the expected op: %+v", pending)
	}
}

func TestForceFullSyncResetsFolder(t *testing.T) {
	svc, folderID := newTestService(t)
	if err := svc.ForceFullSync("acct1", "INBOX"); err != nil {
		t.Fatalf("force full sync: %v", err)
	}
	f, err := svc.handles["acct1"].Folders.GetByID(folderID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !f.ForceFullSync || f.LastUIDSeen != 0 {
		t.Errorf("folder not reset: %+v", f)
	}
}
