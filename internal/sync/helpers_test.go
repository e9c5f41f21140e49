package sync

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	imapPkg "github.com/hkdb/aerion-sync/internal/imap"
)

func TestFlagsToStrings(t *testing.T) {
	got := flagsToStrings([]imap.Flag{imap.FlagSeen, imap.FlagFlagged})
	want := []string{"\\Seen", "\\Flagged"}
	if len(got) != len(want) {
		t.Fatalf("flagsToStrings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flagsToStrings[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAddressesFromEnvelopeSkipsEmpty(t *testing.T) {
	addrs := []imap.Address{
		{Name: "Alice", Mailbox: "alice", Host: "example.com"},
		{}, // no name, no addr: should be dropped
	}
	got := addressesFromEnvelope(addrs)
	if len(got) != 1 {
		t.Fatalf("addressesFromEnvelope = %+v, want 1 entry", got)
	}
	if got[0].Email != "alice@example.com" || got[0].Name != "Alice" {
		t.Errorf("unexpected address: %+v", got[0])
	}
}

func TestAddressesFromHeaderParsesList(t *testing.T) {
	headers := map[string]string{"To": "Alice <alice@example.com>, bob@example.com"}
	got := addressesFromHeader(headers, "To")
	if len(got) != 2 {
		t.Fatalf("addressesFromHeader = %+v, want 2 entries", got)
	}
	if got[0].Email != "alice@example.com" || got[0].Name != "Alice" {
		t.Errorf("first address = %+v", got[0])
	}
	if got[1].Email != "bob@example.com" {
		t.Errorf("second address = %+v", got[1])
	}
}

func TestAddressesFromHeaderFallsBackOnUnparseable(t *testing.T) {
	headers := map[string]string{"To": "not an address, also-not-one"}
	got := addressesFromHeader(headers, "To")
	if len(got) != 2 {
		t.Fatalf("addressesFromHeader = %+v, want 2 best-effort entries", got)
	}
	if got[0].Email != "not an address" {
		t.Errorf("unexpected best-effort token: %+v", got[0])
	}
}

func TestAddressesFromHeaderMissing(t *testing.T) {
	if got := addressesFromHeader(map[string]string{}, "Cc"); got != nil {
		t.Errorf("addressesFromHeader(missing) = %+v, want nil", got)
	}
}

func TestGetHeaderCaseInsensitive(t *testing.T) {
	headers := map[string]string{"Message-Id": "<abc@example.com>"}
	if got := getHeader(headers, "message-id"); got != "<abc@example.com>" {
		t.Errorf("getHeader(message-id) = %q", got)
	}
	if got := getHeader(headers, "MESSAGE-ID"); got != "<abc@example.com>" {
		t.Errorf("getHeader(MESSAGE-ID) = %q", got)
	}
	if got := getHeader(nil, "Subject"); got != "" {
		t.Errorf("getHeader(nil) = %q, want empty", got)
	}
}

func TestBuildEmailPrefersEnvelopeOverHeaders(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	envelope := &imap.Envelope{
		Subject: "Envelope subject",
		From:    []imap.Address{{Name: "Alice", Mailbox: "alice", Host: "example.com"}},
		Date:    now,
	}
	parsed := &parsedBody{
		BodyPlain:  "hi",
		RawHeaders: map[string]string{"Subject": "Header subject", "From": "someone@else.com"},
	}

	e := buildEmail(1, 42, []imap.Flag{imap.FlagSeen}, envelope, now, 100, parsed)

	if e.Subject != "Envelope subject" {
		t.Errorf("Subject = %q, want envelope value to win", e.Subject)
	}
	if e.From.Email != "alice@example.com" {
		t.Errorf("From = %+v, want envelope value to win", e.From)
	}
	if e.UID != 42 || e.FolderID != 1 {
		t.Errorf("UID/FolderID not carried through: %+v", e)
	}
	if !e.HasFlag("\\Seen") {
		t.Errorf("flags not carried through: %v", e.Flags)
	}
}

func TestBuildEmailFallsBackToHeadersWhenEnvelopeEmpty(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	parsed := &parsedBody{
		RawHeaders: map[string]string{
			"Subject": "Header-only subject",
			"From":    "someone@else.com",
		},
	}

	e := buildEmail(1, 7, nil, nil, time.Time{}, 10, parsed)

	if e.Subject != "Header-only subject" {
		t.Errorf("Subject = %q, want header fallback", e.Subject)
	}
	if e.From.Email != "someone@else.com" {
		t.Errorf("From = %+v, want header fallback", e.From)
	}
	if e.DateReceived.IsZero() {
		t.Error("DateReceived should fall back to time.Now() rather than stay zero")
	}
}

func TestConvertFolderType(t *testing.T) {
	cases := map[imapPkg.FolderType]string{
		imapPkg.FolderTypeInbox:  "inbox",
		imapPkg.FolderTypeSent:   "sent",
		imapPkg.FolderTypeDrafts: "draft",
		imapPkg.FolderTypeTrash:  "trash",
		imapPkg.FolderTypeSpam:   "other",
	}
	for in, want := range cases {
		if got := string(convertFolderType(in)); got != want {
			t.Errorf("convertFolderType(%v) = %q, want %q", in, got, want)
		}
	}
}
