// Package database opens and migrates one SQLite file per account.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hkdb/aerion-sync/internal/logging"
	_ "modernc.org/sqlite"
)

const (
	// MaxOpenConns limits concurrent connections against one account's
	// database file. WAL mode allows exactly one writer at a time, so a
	// large pool just adds lock contention.
	MaxOpenConns = 4

	// MaxIdleConns keeps a small warm pool per account database.
	MaxIdleConns = 2

	// CheckpointInterval is how often the WAL is merged back into the
	// main database file.
	CheckpointInterval = 5 * time.Minute

	// mmapSize is issued as a post-open PRAGMA since modernc.org/sqlite
	// does not accept mmap_size as a _pragma DSN parameter.
	mmapSize = 256 * 1024 * 1024
)

// DB wraps one account's SQLite connection pool.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the SQLite database at path, applying the
// performance PRAGMAs the sync engine's write pattern needs: WAL journaling,
// a generous busy_timeout so concurrent readers never see SQLITE_BUSY, and
// an in-memory temp store for the sort/group operations pagination relies
// on.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("database: create dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-10000)&_pragma=temp_store(MEMORY)&_pragma=foreign_keys(ON)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if _, err := sqlDB.Exec(fmt.Sprintf("PRAGMA mmap_size=%d", mmapSize)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: set mmap_size: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: set permissions: %w", err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Checkpoint merges the write-ahead log back into the main database file.
func (db *DB) Checkpoint() error {
	if _, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("database: checkpoint: %w", err)
	}
	return nil
}

// StartCheckpointRoutine periodically checkpoints the WAL until ctx is
// cancelled.
func (db *DB) StartCheckpointRoutine(ctx context.Context) {
	log := logging.WithComponent("database")

	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := db.Checkpoint(); err != nil {
				log.Error().Err(err).Msg("periodic WAL checkpoint failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies every pending migration in order, inside one transaction
// per migration.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version > currentVersion {
			if err := db.applyMigration(m); err != nil {
				return fmt.Errorf("apply migration %d: %w", m.Version, err)
			}
		}
	}
	return nil
}

func (db *DB) applyMigration(m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
