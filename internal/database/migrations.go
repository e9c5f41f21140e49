package database

// Migration is one versioned, forward-only schema change.
type Migration struct {
	Version int
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE folders (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				name           TEXT NOT NULL,
				folder_type    TEXT NOT NULL DEFAULT 'other',
				uid_validity   INTEGER NOT NULL DEFAULT 0,
				last_uid_seen  INTEGER NOT NULL DEFAULT 0,
				total_messages INTEGER NOT NULL DEFAULT 0,
				last_sync_at   DATETIME,
				sync_in_progress INTEGER NOT NULL DEFAULT 0,
				last_error     TEXT,
				force_full_sync INTEGER NOT NULL DEFAULT 0,
				UNIQUE(name)
			);

			CREATE TABLE messages (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				folder_id      INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				uid            INTEGER NOT NULL,
				message_id     TEXT,
				in_reply_to    TEXT,
				references_ids TEXT,
				subject        TEXT,
				from_addr      TEXT,
				to_addrs       TEXT,
				cc_addrs       TEXT,
				bcc_addrs      TEXT,
				reply_to_addrs TEXT,
				date_sent      DATETIME,
				date_received  DATETIME NOT NULL,
				flags          TEXT NOT NULL DEFAULT '',
				body_plain     TEXT,
				body_html      TEXT,
				raw_headers    TEXT,
				size_bytes     INTEGER NOT NULL DEFAULT 0,
				UNIQUE(folder_id, uid)
			);

			CREATE INDEX idx_messages_folder_date ON messages(folder_id, date_received DESC, uid DESC);
			CREATE INDEX idx_messages_folder_uid ON messages(folder_id, uid);
			CREATE INDEX idx_messages_message_id ON messages(message_id);

			CREATE TABLE attachments (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id   INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				part_number  TEXT NOT NULL,
				filename     TEXT,
				content_type TEXT,
				size_bytes   INTEGER NOT NULL DEFAULT 0,
				position     INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_attachments_message ON attachments(message_id, position);

			CREATE TABLE email_operations (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				folder_id   INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				uid         INTEGER NOT NULL,
				op_type     TEXT NOT NULL,
				payload     TEXT NOT NULL DEFAULT '',
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				processed   INTEGER NOT NULL DEFAULT 0,
				processed_at DATETIME,
				attempts    INTEGER NOT NULL DEFAULT 0,
				last_error  TEXT
			);

			CREATE INDEX idx_operations_pending ON email_operations(processed, created_at);

			CREATE TABLE sync_stats (
				folder_id        INTEGER PRIMARY KEY REFERENCES folders(id) ON DELETE CASCADE,
				last_sync_started DATETIME,
				last_sync_finished DATETIME,
				messages_fetched  INTEGER NOT NULL DEFAULT 0,
				last_sync_error   TEXT
			);
		`,
	},
	{
		Version: 2,
		SQL: `
			CREATE TABLE account_state (
				id              INTEGER PRIMARY KEY CHECK (id = 1),
				auth_suspended  INTEGER NOT NULL DEFAULT 0,
				last_auth_error TEXT,
				suspended_at    DATETIME
			);

			INSERT INTO account_state (id) VALUES (1);
		`,
	},
}
