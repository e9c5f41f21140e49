package message

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hkdb/aerion-sync/internal/database"
	"github.com/hkdb/aerion-sync/internal/logging"
	"github.com/rs/zerolog"
)

// Store persists synced emails and attachments in one account's database.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore wraps db for message access.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("message-store")}
}

// UpsertEmails inserts or updates a batch of fetched emails in one
// transaction, so a mid-batch failure never leaves the folder's
// last_uid_seen advanced past messages that were never actually written
// (spec invariant: the store is the single source of truth for what has
// been synced).
func (s *Store) UpsertEmails(folderID int64, emails []Email) error {
	if len(emails) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("message: begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (
			folder_id, uid, message_id, in_reply_to, references_ids, subject,
			from_addr, to_addrs, cc_addrs, bcc_addrs, reply_to_addrs, date_sent, date_received,
			flags, body_plain, body_html, raw_headers, size_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_id, uid) DO UPDATE SET
			flags = excluded.flags,
			body_plain = COALESCE(NULLIF(excluded.body_plain, ''), messages.body_plain),
			body_html = COALESCE(NULLIF(excluded.body_html, ''), messages.body_html)
	`)
	if err != nil {
		return fmt.Errorf("message: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range emails {
		from := marshalAddr(e.From)
		toAddrs := marshalAddrs(e.To)
		ccAddrs := marshalAddrs(e.Cc)
		bccAddrs := marshalAddrs(e.Bcc)
		replyTo := marshalAddrs(e.ReplyTo)
		refs := marshalStrings(e.ReferenceIDs)
		flags := marshalStrings(e.Flags)
		headers := marshalHeaders(e.RawHeaders)

		res, err := stmt.Exec(folderID, e.UID, e.MessageID, e.InReplyTo, refs, e.Subject,
			from, toAddrs, ccAddrs, bccAddrs, replyTo, e.DateSent, e.DateReceived,
			flags, e.BodyPlain, e.BodyHTML, headers, e.SizeBytes)
		if err != nil {
			return fmt.Errorf("message: upsert uid %d: %w", e.UID, err)
		}

		if len(e.Attachments) > 0 {
			messageID, err := res.LastInsertId()
			if err != nil || messageID == 0 {
				messageID, err = s.idForUID(tx, folderID, e.UID)
				if err != nil {
					return fmt.Errorf("message: resolve id for uid %d: %w", e.UID, err)
				}
			}
			if err := s.replaceAttachments(tx, messageID, e.Attachments); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *Store) idForUID(tx *sql.Tx, folderID int64, uid uint32) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM messages WHERE folder_id = ? AND uid = ?`, folderID, uid).Scan(&id)
	return id, err
}

func (s *Store) replaceAttachments(tx *sql.Tx, messageID int64, atts []Attachment) error {
	if _, err := tx.Exec(`DELETE FROM attachments WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("message: clear attachments: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO attachments (message_id, part_number, filename, content_type, size_bytes, position)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("message: prepare attachment insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range atts {
		if _, err := stmt.Exec(messageID, a.PartNumber, a.Filename, a.ContentType, a.Size, a.Position); err != nil {
			return fmt.Errorf("message: insert attachment: %w", err)
		}
	}
	return nil
}

const emailColumns = `
	id, folder_id, uid, message_id, in_reply_to, references_ids, subject,
	from_addr, to_addrs, cc_addrs, bcc_addrs, reply_to_addrs, date_sent, date_received,
	flags, body_plain, body_html, raw_headers, size_bytes
`

// GetRecent returns up to limit emails from a folder, newest first, with a
// (date_received, uid) tie-breaker so pagination stays stable even when
// several messages share a timestamp.
func (s *Store) GetRecent(folderID int64, limit int, withAttachments bool) ([]Email, error) {
	rows, err := s.db.Query(`
		SELECT `+emailColumns+`
		FROM messages
		WHERE folder_id = ?
		ORDER BY date_received DESC, uid DESC
		LIMIT ?
	`, folderID, limit)
	if err != nil {
		return nil, fmt.Errorf("message: get recent: %w", err)
	}
	defer rows.Close()

	emails, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	if withAttachments {
		if err := s.attachAttachments(emails); err != nil {
			return nil, err
		}
	}
	return emails, nil
}

// GetPage returns one page of a folder's emails, newest first, for the UI's
// scroll-driven listing. offset is in messages, not bytes or UIDs.
func (s *Store) GetPage(folderID int64, limit, offset int, withAttachments bool) ([]Email, error) {
	rows, err := s.db.Query(`
		SELECT `+emailColumns+`
		FROM messages
		WHERE folder_id = ?
		ORDER BY date_received DESC, uid DESC
		LIMIT ? OFFSET ?
	`, folderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("message: get page: %w", err)
	}
	defer rows.Close()

	emails, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	if withAttachments {
		if err := s.attachAttachments(emails); err != nil {
			return nil, err
		}
	}
	return emails, nil
}

// GetSinceTimestamp returns emails received at or after since, oldest first.
func (s *Store) GetSinceTimestamp(folderID int64, since time.Time) ([]Email, error) {
	rows, err := s.db.Query(`
		SELECT `+emailColumns+`
		FROM messages
		WHERE folder_id = ? AND date_received >= ?
		ORDER BY date_received ASC, uid ASC
	`, folderID, since)
	if err != nil {
		return nil, fmt.Errorf("message: get since timestamp: %w", err)
	}
	defer rows.Close()
	return scanEmails(rows)
}

// GetByUID returns one email, with attachments, or nil if not synced.
func (s *Store) GetByUID(folderID int64, uid uint32) (*Email, error) {
	row := s.db.QueryRow(`
		SELECT `+emailColumns+`
		FROM messages WHERE folder_id = ? AND uid = ?
	`, folderID, uid)

	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("message: get by uid %d: %w", uid, err)
	}

	atts, err := s.attachmentsForMessage(e.ID)
	if err != nil {
		return nil, err
	}
	e.Attachments = atts
	return &e, nil
}

// DeleteByUID removes a synced email, used once a queued delete or move
// has been applied on the server.
func (s *Store) DeleteByUID(folderID int64, uid uint32) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE folder_id = ? AND uid = ?`, folderID, uid)
	if err != nil {
		return fmt.Errorf("message: delete uid %d: %w", uid, err)
	}
	return nil
}

// GetAllUIDs returns every UID currently stored for a folder, used to
// compute which server-side UIDs have been locally expunged.
func (s *Store) GetAllUIDs(folderID int64) (map[uint32]bool, error) {
	rows, err := s.db.Query(`SELECT uid FROM messages WHERE folder_id = ?`, folderID)
	if err != nil {
		return nil, fmt.Errorf("message: get all uids: %w", err)
	}
	defer rows.Close()

	uids := make(map[uint32]bool)
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("message: scan uid: %w", err)
		}
		uids[uid] = true
	}
	return uids, rows.Err()
}

// GetHighestUID returns the largest UID stored for a folder, or 0 if empty.
func (s *Store) GetHighestUID(folderID int64) (uint32, error) {
	var uid sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(uid) FROM messages WHERE folder_id = ?`, folderID).Scan(&uid)
	if err != nil {
		return 0, fmt.Errorf("message: get highest uid: %w", err)
	}
	if !uid.Valid {
		return 0, nil
	}
	return uint32(uid.Int64), nil
}

// CountByFolder returns the number of synced messages in a folder.
func (s *Store) CountByFolder(folderID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE folder_id = ?`, folderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("message: count by folder: %w", err)
	}
	return count, nil
}

// UpdateFlags overwrites the stored flag set for one message, used after an
// opqueue flag/mark-read mutation is confirmed applied on the server.
func (s *Store) UpdateFlags(folderID int64, uid uint32, flags []string) error {
	_, err := s.db.Exec(`
		UPDATE messages SET flags = ? WHERE folder_id = ? AND uid = ?
	`, marshalStrings(flags), folderID, uid)
	if err != nil {
		return fmt.Errorf("message: update flags: %w", err)
	}
	return nil
}

func (s *Store) attachAttachments(emails []Email) error {
	for i := range emails {
		atts, err := s.attachmentsForMessage(emails[i].ID)
		if err != nil {
			return err
		}
		emails[i].Attachments = atts
	}
	return nil
}

func (s *Store) attachmentsForMessage(messageID int64) ([]Attachment, error) {
	rows, err := s.db.Query(`
		SELECT id, part_number, filename, content_type, size_bytes, position
		FROM attachments WHERE message_id = ? ORDER BY position
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("message: get attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var filename sql.NullString
		if err := rows.Scan(&a.ID, &a.PartNumber, &filename, &a.ContentType, &a.Size, &a.Position); err != nil {
			return nil, fmt.Errorf("message: scan attachment: %w", err)
		}
		a.Filename = filename.String
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmails(rows *sql.Rows) ([]Email, error) {
	var out []Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmail(row rowScanner) (Email, error) {
	var e Email
	var messageID, inReplyTo, refs, from, to, cc, bcc, replyTo, flags, bodyPlain, bodyHTML, headers sql.NullString
	var dateSent sql.NullTime

	err := row.Scan(&e.ID, &e.FolderID, &e.UID, &messageID, &inReplyTo, &refs, &e.Subject,
		&from, &to, &cc, &bcc, &replyTo, &dateSent, &e.DateReceived,
		&flags, &bodyPlain, &bodyHTML, &headers, &e.SizeBytes)
	if err != nil {
		return Email{}, err
	}

	e.MessageID = messageID.String
	e.InReplyTo = inReplyTo.String
	e.ReferenceIDs = unmarshalStrings(refs.String)
	e.From = unmarshalAddr(from.String)
	e.To = unmarshalAddrs(to.String)
	e.Cc = unmarshalAddrs(cc.String)
	e.Bcc = unmarshalAddrs(bcc.String)
	e.ReplyTo = unmarshalAddrs(replyTo.String)
	if dateSent.Valid {
		e.DateSent = dateSent.Time
	}
	e.Flags = unmarshalStrings(flags.String)
	e.BodyPlain = bodyPlain.String
	e.BodyHTML = bodyHTML.String
	e.RawHeaders = unmarshalHeaders(headers.String)
	return e, nil
}

func marshalAddr(a Address) string {
	if a.Email == "" {
		return ""
	}
	return marshalAddrs([]Address{a})
}

func marshalAddrs(addrs []Address) string {
	if len(addrs) == 0 {
		return ""
	}
	data, _ := json.Marshal(addrs)
	return string(data)
}

func unmarshalAddr(s string) Address {
	addrs := unmarshalAddrs(s)
	if len(addrs) == 0 {
		return Address{}
	}
	return addrs[0]
}

func unmarshalAddrs(s string) []Address {
	if s == "" {
		return nil
	}
	var addrs []Address
	if err := json.Unmarshal([]byte(s), &addrs); err != nil {
		return nil
	}
	return addrs
}

func marshalStrings(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	data, _ := json.Marshal(vals)
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(s), &vals); err != nil {
		return nil
	}
	return vals
}

func marshalHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	data, _ := json.Marshal(h)
	return string(data)
}

func unmarshalHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil
	}
	return h
}
