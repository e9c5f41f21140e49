// Package opqueue is the durable queue of UI-requested mutations the sync
// engine drains and applies against the server.
package opqueue

import (
	"database/sql"
	"fmt"
	"time"
)

// Type enumerates the mutation kinds the UI can enqueue.
type Type string

const (
	OpMarkRead    Type = "mark_read"
	OpMarkUnread  Type = "mark_unread"
	OpDelete      Type = "delete"
	OpMove        Type = "move"
	OpFlag        Type = "flag"
	OpUnflag      Type = "unflag"
)

const maxAttempts = 3

// Operation is one queued mutation against a folder/uid.
type Operation struct {
	ID          int64
	FolderID    int64
	UID         uint32
	Type        Type
	Payload     string // e.g. destination folder name for OpMove
	CreatedAt   time.Time
	Processed   bool
	Attempts    int
	LastError   string
}

// Store persists the operation queue in one account's database.
type Store struct {
	db *sql.DB
}

// NewStore wraps db for op-queue access.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Enqueue records a new pending operation.
func (s *Store) Enqueue(folderID int64, uid uint32, opType Type, payload string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO email_operations (folder_id, uid, op_type, payload) VALUES (?, ?, ?, ?)
	`, folderID, uid, string(opType), payload)
	if err != nil {
		return 0, fmt.Errorf("opqueue: enqueue: %w", err)
	}
	return res.LastInsertId()
}

// Pending returns up to limit unprocessed operations that have not yet hit
// the attempt cap, oldest first.
func (s *Store) Pending(limit int) ([]Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, folder_id, uid, op_type, payload, created_at, processed, attempts, last_error
		FROM email_operations
		WHERE processed = 0 AND attempts < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("opqueue: pending: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		var opType string
		var processed int
		var lastError sql.NullString
		if err := rows.Scan(&op.ID, &op.FolderID, &op.UID, &opType, &op.Payload,
			&op.CreatedAt, &processed, &op.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("opqueue: scan: %w", err)
		}
		op.Type = Type(opType)
		op.Processed = processed != 0
		op.LastError = lastError.String
		out = append(out, op)
	}
	return out, rows.Err()
}

// MarkProcessed marks op as applied. Pass a non-nil err to instead record a
// failed attempt (incrementing attempts and storing the error), leaving the
// operation pending for retry until maxAttempts is reached, at which point
// it is transitioned to permanently failed exactly like MarkFailed.
func (s *Store) MarkProcessed(id int64, applyErr error) error {
	if applyErr == nil {
		_, err := s.db.Exec(`
			UPDATE email_operations SET processed = 1, processed_at = CURRENT_TIMESTAMP WHERE id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("opqueue: mark processed: %w", err)
		}
		return nil
	}

	if _, err := s.db.Exec(`
		UPDATE email_operations SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, applyErr.Error(), id); err != nil {
		return fmt.Errorf("opqueue: record failed attempt: %w", err)
	}

	var attempts int
	if err := s.db.QueryRow(`SELECT attempts FROM email_operations WHERE id = ?`, id).Scan(&attempts); err != nil {
		return fmt.Errorf("opqueue: read back attempts: %w", err)
	}
	if attempts >= maxAttempts {
		return s.MarkFailed(id, applyErr)
	}
	return nil
}

// MarkFailed marks op as permanently failed: processed, with the error
// recorded so the UI can surface it. Used for validation/auth errors that a
// retry would never resolve (spec's permanent-error op-processing path).
func (s *Store) MarkFailed(id int64, applyErr error) error {
	_, err := s.db.Exec(`
		UPDATE email_operations
		SET processed = 1, processed_at = CURRENT_TIMESTAMP, last_error = ?
		WHERE id = ?
	`, applyErr.Error(), id)
	if err != nil {
		return fmt.Errorf("opqueue: mark failed: %w", err)
	}
	return nil
}
