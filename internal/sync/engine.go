// Package sync drives one account's mailbox mirror: discovering folders,
// pulling new messages in over IMAP, parsing their bodies, persisting them,
// and draining the queue of local mutations the UI has requested.
package sync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hkdb/aerion-sync/internal/accountstate"
	"github.com/hkdb/aerion-sync/internal/dirtyflag"
	"github.com/hkdb/aerion-sync/internal/folder"
	imapPkg "github.com/hkdb/aerion-sync/internal/imap"
	"github.com/hkdb/aerion-sync/internal/logging"
	"github.com/hkdb/aerion-sync/internal/message"
	"github.com/hkdb/aerion-sync/internal/opqueue"
)

// opBatchSize bounds how many queued operations one drain pass applies,
// so a backlog on one account can't starve the others sharing a pool.
const opBatchSize = 100

// SyncProgress reports how far a folder sync has gotten, for a UI that
// wants a progress bar during the initial cold sync.
type SyncProgress struct {
	AccountKey string
	FolderName string
	Fetched    int
	Total      int
	Phase      string // always "fetching": progress is only reported while fetching a folder
}

// ProgressCallback receives SyncProgress updates. May be nil.
type ProgressCallback func(SyncProgress)

// Engine owns one account's sync pass: folder discovery, cold/incremental
// fetch, and op-queue drain, against that account's own database.
type Engine struct {
	accountKey   string
	pool         *imapPkg.Pool
	folderStore  *folder.Store
	messageStore *message.Store
	opStore      *opqueue.Store
	state        *accountstate.Store
	dirty        *dirtyflag.Map

	log              zerolog.Logger
	progressCallback ProgressCallback
}

// NewEngine builds a sync engine for one account. pool is shared across
// every account the daemon manages; the stores are specific to this one.
func NewEngine(accountKey string, pool *imapPkg.Pool, folderStore *folder.Store, messageStore *message.Store, opStore *opqueue.Store, state *accountstate.Store, dirty *dirtyflag.Map) *Engine {
	return &Engine{
		accountKey:   accountKey,
		pool:         pool,
		folderStore:  folderStore,
		messageStore: messageStore,
		opStore:      opStore,
		state:        state,
		dirty:        dirty,
		log:          logging.WithComponent("sync").With().Str("account", accountKey).Logger(),
	}
}

// IsAuthSuspended reports whether this account's last login attempt was
// rejected and hasn't been cleared since. The scheduler's poll loop skips
// suspended accounts; TriggerSync (manual retry) does not.
func (e *Engine) IsAuthSuspended() bool {
	suspended, err := e.state.IsSuspended()
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to read auth suspension state")
		return false
	}
	return suspended
}

// SetProgressCallback installs a callback invoked as RunOnce makes progress.
func (e *Engine) SetProgressCallback(cb ProgressCallback) {
	e.progressCallback = cb
}

func (e *Engine) reportProgress(folderName string, fetched, total int, phase string) {
	if e.progressCallback == nil {
		return
	}
	e.progressCallback(SyncProgress{
		AccountKey: e.accountKey,
		FolderName: folderName,
		Fetched:    fetched,
		Total:      total,
		Phase:      phase,
	})
}

// RunOnce performs one full sync pass for the account: discover folders,
// sync each one (cold or incremental, per its recorded last_uid_seen), then
// drain any operations the UI queued against this account.
func (e *Engine) RunOnce(ctx context.Context) error {
	conn, err := e.pool.GetConnection(ctx, e.accountKey)
	if err != nil {
		if imapPkg.IsAuthError(err) {
			e.log.Error().Err(err).Msg("authentication failed, suspending account until config changes or a manual retry")
			if serr := e.state.Suspend(err); serr != nil {
				e.log.Error().Err(serr).Msg("failed to persist auth suspension")
			}
		}
		return fmt.Errorf("sync: get connection: %w", err)
	}
	defer e.pool.Release(conn)

	if err := e.state.Clear(); err != nil {
		e.log.Warn().Err(err).Msg("failed to clear auth suspension state")
	}

	client := conn.Client()

	if err := e.discoverFolders(client); err != nil {
		e.log.Warn().Err(err).Msg("folder discovery failed, continuing with known folders")
	}

	folders, err := e.folderStore.List()
	if err != nil {
		return fmt.Errorf("sync: list folders: %w", err)
	}

	var firstErr error
	for _, f := range folders {
		if err := e.syncFolder(ctx, client, f); err != nil {
			e.log.Error().Err(err).Str("folder", f.Name).Msg("folder sync failed")
			if firstErr == nil {
				firstErr = err
			}
			if imapPkg.IsConnectionError(err) {
				e.pool.Discard(conn)
				break
			}
			continue
		}
	}

	if err := e.drainOps(ctx, client); err != nil {
		e.log.Warn().Err(err).Msg("op queue drain failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// discoverFolders lists the server's mailboxes and makes sure each one has
// a row in the folder store, classified by special-use type.
func (e *Engine) discoverFolders(client *imapPkg.Client) error {
	mailboxes, err := client.ListMailboxes()
	if err != nil {
		return fmt.Errorf("list mailboxes: %w", err)
	}
	for _, mb := range mailboxes {
		if _, err := e.folderStore.Upsert(mb.Name, convertFolderType(mb.Type)); err != nil {
			e.log.Warn().Err(err).Str("folder", mb.Name).Msg("failed to upsert folder")
		}
	}
	return nil
}

// syncFolder brings one folder's local mirror up to date. A UIDVALIDITY
// change forces a fresh cold sync (the old last_uid_seen is meaningless
// against a server that renumbered everything); otherwise an
// uninitialized folder gets a full mirror and a known one gets only the
// messages newer than last_uid_seen.
func (e *Engine) syncFolder(ctx context.Context, client *imapPkg.Client, f folder.Folder) error {
	if err := e.folderStore.SetSyncInProgress(f.ID, true); err != nil {
		e.log.Warn().Err(err).Msg("failed to set sync_in_progress")
	}

	mbox, err := client.SelectMailbox(ctx, f.Name)
	if err != nil {
		_ = e.folderStore.RecordSyncResult(f.ID, 0, err)
		return fmt.Errorf("select %s: %w", f.Name, err)
	}

	coldSync := f.LastUIDSeen == 0 || f.ForceFullSync
	if f.UIDValidity != 0 && mbox.UIDValidity != 0 && mbox.UIDValidity != f.UIDValidity {
		e.log.Warn().Str("folder", f.Name).
			Uint32("oldValidity", f.UIDValidity).Uint32("newValidity", mbox.UIDValidity).
			Msg("UIDVALIDITY changed, forcing full resync")
		if err := e.folderStore.RequestFullSync(f.ID); err != nil {
			e.log.Warn().Err(err).Msg("failed to request full sync")
		}
		coldSync = true
		f.LastUIDSeen = 0
	}
	if mbox.UIDValidity != f.UIDValidity {
		if err := e.folderStore.UpdateUIDValidity(f.ID, mbox.UIDValidity); err != nil {
			e.log.Warn().Err(err).Msg("failed to update uid_validity")
		}
	}

	rawClient := client.RawClient()

	serverMax, err := latestUID(ctx, rawClient)
	if err != nil {
		_ = e.folderStore.RecordSyncResult(f.ID, 0, err)
		return fmt.Errorf("latest uid %s: %w", f.Name, err)
	}
	if !coldSync && serverMax <= f.LastUIDSeen {
		// Nothing new since the last pass.
		if err := e.folderStore.RecordSyncResult(f.ID, f.TotalMessages, nil); err != nil {
			e.log.Warn().Err(err).Msg("failed to record no-op sync result")
		}
		return nil
	}

	low := f.LastUIDSeen
	if coldSync {
		low = 0
	}
	uids, err := uidsSince(ctx, rawClient, low)
	if err != nil {
		_ = e.folderStore.RecordSyncResult(f.ID, 0, err)
		return fmt.Errorf("search %s: %w", f.Name, err)
	}

	fetched := 0
	var maxSeen uint32
	for _, batch := range chunkUIDs(uids, fetchBatchSize) {
		emails, ferr := e.fetchBatch(ctx, rawClient, f.ID, batch)
		if len(emails) > 0 {
			if err := e.messageStore.UpsertEmails(f.ID, emails); err != nil {
				_ = e.folderStore.RecordSyncResult(f.ID, fetched, err)
				return fmt.Errorf("upsert emails %s: %w", f.Name, err)
			}
			for _, em := range emails {
				if em.UID > maxSeen {
					maxSeen = em.UID
				}
			}
			if maxSeen > 0 {
				if err := e.folderStore.AdvanceLastUIDSeen(f.ID, maxSeen); err != nil {
					e.log.Warn().Err(err).Msg("failed to advance last_uid_seen")
				}
			}
			fetched += len(emails)
			e.reportProgress(f.Name, fetched, len(uids), "fetching")
			e.dirty.Set(dirtyflag.Key{Account: e.accountKey, Folder: f.Name})
		}
		if ferr != nil {
			_ = e.folderStore.RecordSyncResult(f.ID, fetched, ferr)
			return fmt.Errorf("fetch %s: %w", f.Name, ferr)
		}
	}

	if coldSync {
		if err := e.folderStore.ClearFullSync(f.ID); err != nil {
			e.log.Warn().Err(err).Msg("failed to clear force_full_sync")
		}
	}

	total, err := e.messageStore.CountByFolder(f.ID)
	if err != nil {
		total = f.TotalMessages + fetched
	}
	if err := e.folderStore.RecordSyncResult(f.ID, total, nil); err != nil {
		return fmt.Errorf("record sync result %s: %w", f.Name, err)
	}
	return nil
}
