package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keyFileName = "device.key"
	dbDirName   = "cache"
	hkdfInfo    = "famlink-storage-v1"
)

// Store is the device-local key/value cache. It holds only the auth token and
// the cached user profile; chat state is memory-only and never lands here.
// Values are sealed at rest so a copied data dir does not leak credentials.
type Store struct {
	db   *pebble.DB
	aead cipher.AEAD
}

// Open opens (or creates) the store under dir. A per-device random key is
// created on first open and kept in a 0600 file next to the database.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	deviceKey, err := loadOrCreateKey(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, err
	}

	sealKey := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, deviceKey, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, sealKey); err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	aead, err := chacha20poly1305.New(sealKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	db, err := pebble.Open(filepath.Join(dir, dbDirName), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	return &Store{db: db, aead: aead}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("device key at %s has wrong size", path)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read device key: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write device key: %w", err)
	}
	return key, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetItem stores value under key, sealed with a fresh nonce.
func (s *Store) SetItem(key, value string) error {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), nil)
	if err := s.db.Set([]byte(key), sealed, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetItem returns the value stored under key. A missing key is not an error;
// it is reported through the boolean.
func (s *Store) GetItem(key string) (string, bool, error) {
	data, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	sealed := append([]byte(nil), data...)
	if err := closer.Close(); err != nil {
		return "", false, err
	}

	if len(sealed) < chacha20poly1305.NonceSize {
		return "", false, fmt.Errorf("sealed value under %s is truncated", key)
	}
	plain, err := s.aead.Open(nil, sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return "", false, fmt.Errorf("unseal %s: %w", key, err)
	}
	return string(plain), true, nil
}

// RemoveItem deletes key. Removing an absent key is a no-op.
func (s *Store) RemoveItem(key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
