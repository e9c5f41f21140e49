// Package credentials provides secure credential storage with fallback
// support: the OS keyring first, an encrypted file under the account's
// data directory if the keyring is unavailable.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hkdb/aerion-sync/internal/crypto"
	"github.com/hkdb/aerion-sync/internal/logging"
	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"
)

const serviceName = "aerion-sync"

// Role is which secret is being requested for an account.
type Role string

const (
	RoleIMAP Role = "imap"
	RoleSMTP Role = "smtp"
)

// ErrCredentialNotFound is returned when no secret is stored for a key/role.
var ErrCredentialNotFound = errors.New("credentials: not found")

// Store is the vault: get(account_key, role) -> secret.
type Store struct {
	dataDir        string
	encryptor      *crypto.Encryptor
	keyringEnabled bool
	log            zerolog.Logger
}

// NewStore tries the OS keyring, falling back to an encrypted file under
// dataDir if the keyring is unavailable (headless servers, minimal
// containers).
func NewStore(dataDir string) (*Store, error) {
	log := logging.WithComponent("credentials")

	encryptor, err := crypto.NewEncryptor(dataDir)
	if err != nil {
		return nil, fmt.Errorf("credentials: create encryptor: %w", err)
	}

	keyringEnabled := testKeyring()
	if keyringEnabled {
		log.Info().Msg("OS keyring available, using as primary credential storage")
	} else {
		log.Warn().Msg("OS keyring not available, using encrypted file storage")
	}

	return &Store{
		dataDir:        dataDir,
		encryptor:      encryptor,
		keyringEnabled: keyringEnabled,
		log:            log,
	}, nil
}

func testKeyring() bool {
	const testKey = "aerion-sync-test-keyring-check"
	if err := gokeyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	gokeyring.Delete(serviceName, testKey)
	return true
}

func keyringKey(accountKey string, role Role) string {
	return accountKey + ":" + string(role)
}

// SetSecret stores secret for accountKey/role.
func (s *Store) SetSecret(accountKey string, role Role, secret string) error {
	if secret == "" {
		return nil
	}

	if s.keyringEnabled {
		if err := gokeyring.Set(serviceName, keyringKey(accountKey, role), secret); err == nil {
			s.log.Debug().Str("account", accountKey).Str("role", string(role)).Msg("secret stored in OS keyring")
			s.clearFileSecret(accountKey, role)
			return nil
		}
		s.log.Warn().Str("account", accountKey).Msg("failed to store in OS keyring, using fallback")
	}

	return s.setFileSecret(accountKey, role, secret)
}

// GetSecret retrieves the secret for accountKey/role.
func (s *Store) GetSecret(accountKey string, role Role) (string, error) {
	if s.keyringEnabled {
		secret, err := gokeyring.Get(serviceName, keyringKey(accountKey, role))
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, gokeyring.ErrNotFound) {
			s.log.Warn().Err(err).Msg("error reading from OS keyring, trying fallback")
		}
	}

	return s.getFileSecret(accountKey, role)
}

// DeleteSecret removes the secret for accountKey/role from both backends.
func (s *Store) DeleteSecret(accountKey string, role Role) error {
	if s.keyringEnabled {
		gokeyring.Delete(serviceName, keyringKey(accountKey, role))
	}
	s.clearFileSecret(accountKey, role)
	return nil
}

// IsKeyringEnabled reports whether the OS keyring is the active backend.
func (s *Store) IsKeyringEnabled() bool {
	return s.keyringEnabled
}

// vaultFile is the encrypted-fallback on-disk format: one JSON file per
// data directory holding every account/role secret stored there,
// each value independently AES-GCM sealed.
type vaultFile map[string]string

func (s *Store) vaultPath() string {
	return filepath.Join(s.dataDir, "credentials.vault.json")
}

func (s *Store) loadVault() (vaultFile, error) {
	data, err := os.ReadFile(s.vaultPath())
	if errors.Is(err, os.ErrNotExist) {
		return vaultFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read vault file: %w", err)
	}
	var v vaultFile
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("credentials: parse vault file: %w", err)
	}
	return v, nil
}

func (s *Store) saveVault(v vaultFile) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("credentials: marshal vault file: %w", err)
	}
	if err := os.WriteFile(s.vaultPath(), data, 0600); err != nil {
		return fmt.Errorf("credentials: write vault file: %w", err)
	}
	return nil
}

func (s *Store) setFileSecret(accountKey string, role Role, secret string) error {
	v, err := s.loadVault()
	if err != nil {
		return err
	}
	encrypted, err := s.encryptor.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("credentials: encrypt secret: %w", err)
	}
	v[keyringKey(accountKey, role)] = encrypted
	return s.saveVault(v)
}

func (s *Store) getFileSecret(accountKey string, role Role) (string, error) {
	v, err := s.loadVault()
	if err != nil {
		return "", err
	}
	encrypted, ok := v[keyringKey(accountKey, role)]
	if !ok || encrypted == "" {
		return "", ErrCredentialNotFound
	}
	secret, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypt secret: %w", err)
	}
	return secret, nil
}

func (s *Store) clearFileSecret(accountKey string, role Role) {
	v, err := s.loadVault()
	if err != nil {
		return
	}
	delete(v, keyringKey(accountKey, role))
	s.saveVault(v)
}
