// Package accountstate tracks one account's authentication-suspension
// status: whether its last login attempt was rejected, which stops the
// scheduler from retrying it until config changes or a manual retry clears
// the flag.
package accountstate

import (
	"database/sql"
	"fmt"
)

// State is the account's persisted authentication status.
type State struct {
	Suspended     bool
	LastAuthError string
}

// Store persists account_state in one account's database. There is always
// exactly one row (id = 1), seeded by the schema migration.
type Store struct {
	db *sql.DB
}

// NewStore wraps db for account-state access.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the account's current authentication state.
func (s *Store) Get() (State, error) {
	var suspended int
	var lastErr sql.NullString
	err := s.db.QueryRow(`SELECT auth_suspended, last_auth_error FROM account_state WHERE id = 1`).
		Scan(&suspended, &lastErr)
	if err != nil {
		return State{}, fmt.Errorf("accountstate: get: %w", err)
	}
	return State{Suspended: suspended != 0, LastAuthError: lastErr.String}, nil
}

// IsSuspended is a convenience wrapper around Get for callers that only
// care about the boolean.
func (s *Store) IsSuspended() (bool, error) {
	state, err := s.Get()
	if err != nil {
		return false, err
	}
	return state.Suspended, nil
}

// Suspend records an authentication failure, halting further scheduled
// syncs for this account until Clear is called.
func (s *Store) Suspend(authErr error) error {
	msg := ""
	if authErr != nil {
		msg = authErr.Error()
	}
	_, err := s.db.Exec(`
		UPDATE account_state
		SET auth_suspended = 1, last_auth_error = ?, suspended_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, msg)
	if err != nil {
		return fmt.Errorf("accountstate: suspend: %w", err)
	}
	return nil
}

// Clear lifts a suspension, e.g. after a login succeeds.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`
		UPDATE account_state SET auth_suspended = 0, last_auth_error = NULL, suspended_at = NULL WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("accountstate: clear: %w", err)
	}
	return nil
}
