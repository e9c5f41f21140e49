// Package folder manages the per-account folder list and its sync metadata.
package folder

import (
	"database/sql"
	"fmt"
	"time"
)

// Type classifies a folder's special-use role.
type Type string

const (
	TypeInbox Type = "inbox"
	TypeSent  Type = "sent"
	TypeDraft Type = "draft"
	TypeTrash Type = "trash"
	TypeOther Type = "other"
)

// Folder is one IMAP mailbox tracked for an account.
type Folder struct {
	ID              int64
	Name            string
	FolderType      Type
	UIDValidity     uint32
	LastUIDSeen     uint32
	TotalMessages   int
	LastSyncAt      *time.Time
	SyncInProgress  bool
	LastError       string
	ForceFullSync   bool
}

// Store persists folders and their sync metadata in one account's database.
type Store struct {
	db *sql.DB
}

// NewStore wraps db for folder access.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert creates the folder row if absent, returning its ID either way.
func (s *Store) Upsert(name string, folderType Type) (int64, error) {
	_, err := s.db.Exec(`
		INSERT INTO folders (name, folder_type) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, string(folderType))
	if err != nil {
		return 0, fmt.Errorf("folder: upsert %s: %w", name, err)
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM folders WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("folder: read id for %s: %w", name, err)
	}
	return id, nil
}

// List returns every folder known to this account.
func (s *Store) List() ([]Folder, error) {
	rows, err := s.db.Query(`
		SELECT id, name, folder_type, uid_validity, last_uid_seen, total_messages,
		       last_sync_at, sync_in_progress, last_error, force_full_sync
		FROM folders ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("folder: list: %w", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Get returns the folder with the given name.
func (s *Store) Get(name string) (*Folder, error) {
	row := s.db.QueryRow(`
		SELECT id, name, folder_type, uid_validity, last_uid_seen, total_messages,
		       last_sync_at, sync_in_progress, last_error, force_full_sync
		FROM folders WHERE name = ?
	`, name)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("folder: get %s: %w", name, err)
	}
	return &f, nil
}

// GetByID returns the folder with the given id, used by the sync engine to
// resolve an op-queue entry's folder_id back to a mailbox name.
func (s *Store) GetByID(id int64) (*Folder, error) {
	row := s.db.QueryRow(`
		SELECT id, name, folder_type, uid_validity, last_uid_seen, total_messages,
		       last_sync_at, sync_in_progress, last_error, force_full_sync
		FROM folders WHERE id = ?
	`, id)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("folder: get by id %d: %w", id, err)
	}
	return &f, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(row scanner) (Folder, error) {
	var f Folder
	var folderType string
	var lastSyncAt sql.NullTime
	var lastError sql.NullString
	var syncInProgress, forceFullSync int

	err := row.Scan(&f.ID, &f.Name, &folderType, &f.UIDValidity, &f.LastUIDSeen,
		&f.TotalMessages, &lastSyncAt, &syncInProgress, &lastError, &forceFullSync)
	if err != nil {
		return Folder{}, err
	}

	f.FolderType = Type(folderType)
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		f.LastSyncAt = &t
	}
	f.LastError = lastError.String
	f.SyncInProgress = syncInProgress != 0
	f.ForceFullSync = forceFullSync != 0
	return f, nil
}

// UpdateUIDValidity resets the folder's tracked validity, used when a
// mismatch is detected against the server (spec's cold-resync trigger).
func (s *Store) UpdateUIDValidity(folderID int64, uidValidity uint32) error {
	_, err := s.db.Exec(`UPDATE folders SET uid_validity = ? WHERE id = ?`, uidValidity, folderID)
	if err != nil {
		return fmt.Errorf("folder: update uid_validity: %w", err)
	}
	return nil
}

// AdvanceLastUIDSeen records the highest UID fetched so far for a folder.
func (s *Store) AdvanceLastUIDSeen(folderID int64, uid uint32) error {
	_, err := s.db.Exec(`
		UPDATE folders SET last_uid_seen = ? WHERE id = ? AND last_uid_seen < ?
	`, uid, folderID, uid)
	if err != nil {
		return fmt.Errorf("folder: advance last_uid_seen: %w", err)
	}
	return nil
}

// SetSyncInProgress marks (or clears) the in-progress flag used to keep the
// dirty-flag channel's cross-process signal accurate during a sync.
func (s *Store) SetSyncInProgress(folderID int64, inProgress bool) error {
	v := 0
	if inProgress {
		v = 1
	}
	_, err := s.db.Exec(`UPDATE folders SET sync_in_progress = ? WHERE id = ?`, v, folderID)
	if err != nil {
		return fmt.Errorf("folder: set sync_in_progress: %w", err)
	}
	return nil
}

// RecordSyncResult updates last_sync_at/last_error and total_messages after
// a sync attempt finishes (success or failure).
func (s *Store) RecordSyncResult(folderID int64, totalMessages int, syncErr error) error {
	var errText sql.NullString
	if syncErr != nil {
		errText = sql.NullString{String: syncErr.Error(), Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE folders
		SET last_sync_at = CURRENT_TIMESTAMP, total_messages = ?, last_error = ?, sync_in_progress = 0
		WHERE id = ?
	`, totalMessages, errText, folderID)
	if err != nil {
		return fmt.Errorf("folder: record sync result: %w", err)
	}
	return nil
}

// RequestFullSync resets the folder back to its pre-first-sync state
// (force_full_sync, last_uid_seen, total_messages all zeroed), consumed by
// the engine's next pass as a cold sync.
func (s *Store) RequestFullSync(folderID int64) error {
	_, err := s.db.Exec(`
		UPDATE folders SET force_full_sync = 1, last_uid_seen = 0, total_messages = 0 WHERE id = ?
	`, folderID)
	if err != nil {
		return fmt.Errorf("folder: request full sync: %w", err)
	}
	return nil
}

// ClearFullSync clears force_full_sync once the engine has honored it.
func (s *Store) ClearFullSync(folderID int64) error {
	_, err := s.db.Exec(`UPDATE folders SET force_full_sync = 0 WHERE id = ?`, folderID)
	if err != nil {
		return fmt.Errorf("folder: clear full sync: %w", err)
	}
	return nil
}
