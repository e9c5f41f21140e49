package sync

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/hkdb/aerion-sync/internal/dirtyflag"
	imapPkg "github.com/hkdb/aerion-sync/internal/imap"
	"github.com/hkdb/aerion-sync/internal/opqueue"
)

// drainOps applies every pending local mutation against the server,
// splitting failures into transient (left pending for a later retry, up
// to the op-queue's attempt cap) and permanent (marked processed with the
// error recorded, since retrying would never succeed).
func (e *Engine) drainOps(ctx context.Context, client *imapPkg.Client) error {
	ops, err := e.opStore.Pending(opBatchSize)
	if err != nil {
		return fmt.Errorf("op queue: list pending: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	selected := ""
	for _, op := range ops {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f, err := e.folderStore.GetByID(op.FolderID)
		if err != nil || f == nil {
			e.log.Error().Int64("op", op.ID).Int64("folderId", op.FolderID).Msg("op references unknown folder, dropping")
			_ = e.opStore.MarkFailed(op.ID, fmt.Errorf("unknown folder %d", op.FolderID))
			continue
		}

		if selected != f.Name {
			if _, err := client.SelectMailbox(ctx, f.Name); err != nil {
				if imapPkg.IsConnectionError(err) {
					return fmt.Errorf("op queue: select %s: %w", f.Name, err)
				}
				_ = e.opStore.MarkFailed(op.ID, fmt.Errorf("select folder: %w", err))
				continue
			}
			selected = f.Name
		}

		applyErr := e.applyOp(client, op)
		if applyErr == nil {
			if err := e.opStore.MarkProcessed(op.ID, nil); err != nil {
				e.log.Warn().Err(err).Int64("op", op.ID).Msg("failed to mark op processed")
			}
			// The next incremental sync won't re-fetch a UID it's already
			// seen, so mirror the mutation locally rather than waiting on it.
			if err := e.applyLocalEffect(f.ID, op); err != nil {
				e.log.Warn().Err(err).Int64("op", op.ID).Msg("failed to apply local effect of op")
			}
			e.dirty.Set(dirtyflag.Key{Account: e.accountKey, Folder: f.Name})
			continue
		}

		if imapPkg.IsConnectionError(applyErr) {
			// Leave pending; a later pass retries it against a fresh
			// connection, up to the store's attempt cap.
			if err := e.opStore.MarkProcessed(op.ID, applyErr); err != nil {
				e.log.Warn().Err(err).Int64("op", op.ID).Msg("failed to record transient op failure")
			}
			return fmt.Errorf("op queue: connection lost applying op %d: %w", op.ID, applyErr)
		}

		// Anything else (bad UID, validation error) will never succeed
		// on retry: surface it and move on.
		if err := e.opStore.MarkFailed(op.ID, applyErr); err != nil {
			e.log.Warn().Err(err).Int64("op", op.ID).Msg("failed to mark op failed")
		}
	}
	return nil
}

// applyOp translates one queued mutation into the IMAP command it mirrors.
// The op's source mailbox (its folder) must already be selected.
func (e *Engine) applyOp(client *imapPkg.Client, op opqueue.Operation) error {
	uid := imap.UID(op.UID)

	switch op.Type {
	case opqueue.OpMarkRead:
		return client.AddMessageFlags([]imap.UID{uid}, []imap.Flag{imap.FlagSeen})
	case opqueue.OpMarkUnread:
		return client.RemoveMessageFlags([]imap.UID{uid}, []imap.Flag{imap.FlagSeen})
	case opqueue.OpFlag:
		return client.AddMessageFlags([]imap.UID{uid}, []imap.Flag{imap.FlagFlagged})
	case opqueue.OpUnflag:
		return client.RemoveMessageFlags([]imap.UID{uid}, []imap.Flag{imap.FlagFlagged})
	case opqueue.OpDelete:
		return client.DeleteMessageByUID(uid)
	case opqueue.OpMove:
		if op.Payload == "" {
			return fmt.Errorf("move op %d missing destination folder", op.ID)
		}
		return client.MoveMessages([]imap.UID{uid}, op.Payload)
	default:
		return fmt.Errorf("unknown op type %q", op.Type)
	}
}

// applyLocalEffect mirrors a successfully-applied op into the local
// message store, since a flag change or move won't show up again in an
// incremental sync (its UID is already below last_uid_seen).
func (e *Engine) applyLocalEffect(folderID int64, op opqueue.Operation) error {
	switch op.Type {
	case opqueue.OpMarkRead:
		return e.setFlag(folderID, op.UID, string(imap.FlagSeen), true)
	case opqueue.OpMarkUnread:
		return e.setFlag(folderID, op.UID, string(imap.FlagSeen), false)
	case opqueue.OpFlag:
		return e.setFlag(folderID, op.UID, string(imap.FlagFlagged), true)
	case opqueue.OpUnflag:
		return e.setFlag(folderID, op.UID, string(imap.FlagFlagged), false)
	case opqueue.OpDelete, opqueue.OpMove:
		return e.messageStore.DeleteByUID(folderID, op.UID)
	default:
		return nil
	}
}

func (e *Engine) setFlag(folderID int64, uid uint32, flag string, present bool) error {
	msg, err := e.messageStore.GetByUID(folderID, uid)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	flags := msg.Flags
	if present {
		if !msg.HasFlag(flag) {
			flags = append(flags, flag)
		}
	} else {
		out := flags[:0]
		for _, f := range flags {
			if f != flag {
				out = append(out, f)
			}
		}
		flags = out
	}
	return e.messageStore.UpdateFlags(folderID, uid, flags)
}
