// Package ui is the sync core's read/queue API surface: the only seam
// through which a terminal UI process touches the account stores the sync
// daemon writes. It mirrors the teacher's app/ package (a thin binding
// layer over folder.Store/message.Store) but exposes a plain Go API instead
// of Wails-bound methods, since here the UI is a separate process rather
// than an embedded webview.
package ui

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hkdb/aerion-sync/internal/account"
	"github.com/hkdb/aerion-sync/internal/dirtyflag"
	"github.com/hkdb/aerion-sync/internal/folder"
	"github.com/hkdb/aerion-sync/internal/logging"
	"github.com/hkdb/aerion-sync/internal/message"
	"github.com/hkdb/aerion-sync/internal/opqueue"
)

const (
	// recentWindow is the depth get_recent pulls; page() slices within it
	// rather than re-querying per page, per spec.md §4.5's pagination
	// contract.
	recentWindow = 200
	// defaultPageSize is used when a caller passes page_size <= 0.
	defaultPageSize = 50
)

// AccountHandle bundles one account's stores, built once at daemon startup
// alongside its sync.Engine so the UI API and the sync engine share the
// same underlying database connections.
type AccountHandle struct {
	Account  account.Account
	Folders  *folder.Store
	Messages *message.Store
	Ops      *opqueue.Store
}

// Service is the UI-facing read/queue API, layered over every configured
// account's stores.
type Service struct {
	accounts []account.Account
	handles  map[string]*AccountHandle
	dirty    *dirtyflag.Map
	log      zerolog.Logger
}

// NewService builds the UI API over one AccountHandle per configured
// account, keyed by account.Account.Key.
func NewService(accounts []account.Account, handles map[string]*AccountHandle, dirty *dirtyflag.Map) *Service {
	return &Service{
		accounts: accounts,
		handles:  handles,
		dirty:    dirty,
		log:      logging.WithComponent("ui-service"),
	}
}

func (s *Service) handle(accountKey string) (*AccountHandle, error) {
	h, ok := s.handles[accountKey]
	if !ok {
		return nil, fmt.Errorf("ui: unknown account %q", accountKey)
	}
	return h, nil
}

// ListAccounts returns every configured account, in config.json order.
func (s *Service) ListAccounts() []account.Account {
	return s.accounts
}

// ListFolders returns one account's known folders.
func (s *Service) ListFolders(accountKey string) ([]folder.Folder, error) {
	h, err := s.handle(accountKey)
	if err != nil {
		return nil, err
	}
	return h.Folders.List()
}

// Page returns one page of a folder's emails, newest first. pageIndex is
// zero-based; a pageSize <= 0 falls back to 50. Pages are served out of a
// single recentWindow-deep read so repeated calls stay stable even when two
// messages share a date_received value (the (date_received DESC, uid DESC)
// tie-breaker is enforced by the store query itself).
func (s *Service) Page(accountKey, folderName string, pageIndex, pageSize int) ([]message.Email, error) {
	h, err := s.handle(accountKey)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	f, err := h.Folders.Get(folderName)
	if err != nil {
		return nil, fmt.Errorf("ui: page %s/%s: %w", accountKey, folderName, err)
	}
	if f == nil {
		return nil, fmt.Errorf("ui: unknown folder %s/%s", accountKey, folderName)
	}

	window, err := h.Messages.GetPage(f.ID, recentWindow, 0, false)
	if err != nil {
		return nil, err
	}

	start := pageIndex * pageSize
	if start >= len(window) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(window) {
		end = len(window)
	}
	return window[start:end], nil
}

// Open fetches one email in full, including its body and attachments.
func (s *Service) Open(accountKey, folderName string, uid uint32) (*message.Email, error) {
	h, err := s.handle(accountKey)
	if err != nil {
		return nil, err
	}
	f, err := h.Folders.Get(folderName)
	if err != nil {
		return nil, fmt.Errorf("ui: open %s/%s: %w", accountKey, folderName, err)
	}
	if f == nil {
		return nil, fmt.Errorf("ui: unknown folder %s/%s", accountKey, folderName)
	}
	return h.Messages.GetByUID(f.ID, uid)
}

// Queue enqueues a mutation for the sync engine to apply, and returns the
// display copy with the optimistic effect already applied so the UI can
// render the change before the engine has processed it. The truth
// reconciliation happens on the next Page/Open call after that.
func (s *Service) Queue(accountKey, folderName string, uid uint32, opType opqueue.Type, dest string) (*message.Email, error) {
	h, err := s.handle(accountKey)
	if err != nil {
		return nil, err
	}
	f, err := h.Folders.Get(folderName)
	if err != nil {
		return nil, fmt.Errorf("ui: queue %s/%s: %w", accountKey, folderName, err)
	}
	if f == nil {
		return nil, fmt.Errorf("ui: unknown folder %s/%s", accountKey, folderName)
	}

	if _, err := h.Ops.Enqueue(f.ID, uid, opType, dest); err != nil {
		return nil, fmt.Errorf("ui: enqueue %s on %d: %w", opType, uid, err)
	}
	s.dirty.Set(dirtyflag.Key{Account: accountKey, Folder: folderName})

	email, err := h.Messages.GetByUID(f.ID, uid)
	if err != nil || email == nil {
		return nil, err
	}
	applyOptimistic(email, opType)
	return email, nil
}

// applyOptimistic mutates a display copy of email to match what opType will
// produce once the sync engine actually applies it, per spec.md §4.5's
// optimistic-update invariant.
func applyOptimistic(email *message.Email, opType opqueue.Type) {
	switch opType {
	case opqueue.OpMarkRead:
		setFlag(email, "\\Seen", true)
	case opqueue.OpMarkUnread:
		setFlag(email, "\\Seen", false)
	case opqueue.OpFlag:
		setFlag(email, "\\Flagged", true)
	case opqueue.OpUnflag:
		setFlag(email, "\\Flagged", false)
	}
	// Delete/move leave the display copy as-is; the UI drops it from the
	// list on the next Page() call once the engine removes the row.
}

func setFlag(email *message.Email, flag string, present bool) {
	if present {
		if !email.HasFlag(flag) {
			email.Flags = append(email.Flags, flag)
		}
		return
	}
	out := email.Flags[:0]
	for _, f := range email.Flags {
		if f != flag {
			out = append(out, f)
		}
	}
	email.Flags = out
}

// ForceFullSync resets a folder back to its pre-first-sync state so the
// engine's next pass performs a full cold resync instead of an incremental
// one.
func (s *Service) ForceFullSync(accountKey, folderName string) error {
	h, err := s.handle(accountKey)
	if err != nil {
		return err
	}
	f, err := h.Folders.Get(folderName)
	if err != nil {
		return fmt.Errorf("ui: force full sync %s/%s: %w", accountKey, folderName, err)
	}
	if f == nil {
		return fmt.Errorf("ui: unknown folder %s/%s", accountKey, folderName)
	}
	return h.Folders.RequestFullSync(f.ID)
}
