package dirtyflag

import "testing"

func TestMapSetAndCheckAndClear(t *testing.T) {
	m := New()
	key := Key{Account: "acct1", Folder: "INBOX"}

	if m.CheckAndClear(key) {
		t.Fatal("CheckAndClear() on an unset key should return false")
	}

	m.Set(key)
	if !m.CheckAndClear(key) {
		t.Error("CheckAndClear() should return true right after Set()")
	}
	if m.CheckAndClear(key) {
		t.Error("CheckAndClear() should clear the flag, not just read it")
	}
}

func TestMapDirtyFolders(t *testing.T) {
	m := New()
	m.Set(Key{Account: "acct1", Folder: "INBOX"})
	m.Set(Key{Account: "acct1", Folder: "Sent"})
	m.Set(Key{Account: "acct2", Folder: "INBOX"})

	got := m.DirtyFolders("acct1")
	if len(got) != 2 {
		t.Fatalf("DirtyFolders(acct1) = %v, want 2 entries", got)
	}

	want := map[string]bool{"INBOX": true, "Sent": true}
	for _, f := range got {
		if !want[f] {
			t.Errorf("unexpected folder %q in DirtyFolders(acct1)", f)
		}
	}

	if got := m.DirtyFolders("acct3"); got != nil {
		t.Errorf("DirtyFolders(acct3) = %v, want nil", got)
	}
}

func TestMapSetIsIdempotent(t *testing.T) {
	m := New()
	key := Key{Account: "acct1", Folder: "INBOX"}
	m.Set(key)
	m.Set(key)

	if got := m.DirtyFolders("acct1"); len(got) != 1 {
		t.Errorf("DirtyFolders(acct1) = %v, want exactly 1 entry after two Set() calls", got)
	}
}
