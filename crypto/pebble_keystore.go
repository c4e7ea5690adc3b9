package crypto

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// PebbleKeyStore is a KeyProvider backed by a local Pebble database,
// giving keys durability across process restarts.
type PebbleKeyStore struct {
	db *pebble.DB
}

// NewPebbleKeyStore opens (or creates) a Pebble database at path.
func NewPebbleKeyStore(path string) (*PebbleKeyStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewPebbleKeyStore",
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to open key store")
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPebbleKeyStore",
		"path":     path,
	}).Info("Key store opened")

	return &PebbleKeyStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleKeyStore) Close() error {
	return s.db.Close()
}

// GetKey returns the key stored for scope.
func (s *PebbleKeyStore) GetKey(scope string) (Key, bool, error) {
	value, closer, err := s.db.Get(keyStoreKey(scope))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Key{}, false, nil
		}
		return Key{}, false, fmt.Errorf("failed to read key for scope %q: %w", scope, err)
	}
	defer closer.Close()

	if len(value) != len(Key{}) {
		return Key{}, false, fmt.Errorf("stored key for scope %q has invalid length %d", scope, len(value))
	}

	var key Key
	copy(key[:], value)
	return key, true, nil
}

// PutKey durably stores the key for scope.
func (s *PebbleKeyStore) PutKey(scope string, key Key) error {
	if err := s.db.Set(keyStoreKey(scope), key[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist key for scope %q: %w", scope, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "PutKey",
		"scope":    scope,
	}).Info("Encryption key persisted")

	return nil
}

// Key format: key:<scope>
func keyStoreKey(scope string) []byte {
	return []byte("key:" + scope)
}
