package attachment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// RefPrefix marks attachment references produced by this package.
const RefPrefix = "blob:"

// BlobStore stores attachment bytes under opaque content-addressed
// references.
type BlobStore interface {
	// Put stores data and returns its reference. Storing the same bytes
	// twice returns the same reference.
	Put(data []byte) (ref string, err error)
	// Get resolves a reference to its bytes, or ErrBlobNotFound.
	Get(ref string) ([]byte, error)
}

// blobRef derives the content-addressed reference for data.
func blobRef(data []byte) string {
	sum := sha256.Sum256(data)
	return RefPrefix + hex.EncodeToString(sum[:])
}

// MemoryBlobStore is an in-memory BlobStore for tests and ephemeral use.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Put stores data in memory.
func (s *MemoryBlobStore) Put(data []byte) (string, error) {
	ref := blobRef(data)
	copied := append([]byte(nil), data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = copied
	return ref, nil
}

// Get resolves a reference.
func (s *MemoryBlobStore) Get(ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[ref]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

// PebbleBlobStore is a BlobStore backed by a local Pebble database.
type PebbleBlobStore struct {
	db *pebble.DB
}

// NewPebbleBlobStore opens (or creates) a Pebble database at path.
func NewPebbleBlobStore(path string) (*PebbleBlobStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPebbleBlobStore",
		"path":     path,
	}).Info("Blob store opened")

	return &PebbleBlobStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleBlobStore) Close() error {
	return s.db.Close()
}

// Put durably stores data.
func (s *PebbleBlobStore) Put(data []byte) (string, error) {
	ref := blobRef(data)
	if err := s.db.Set([]byte(ref), data, pebble.Sync); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return ref, nil
}

// Get resolves a reference.
func (s *PebbleBlobStore) Get(ref string) ([]byte, error) {
	value, closer, err := s.db.Get([]byte(ref))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	defer closer.Close()

	return append([]byte(nil), value...), nil
}
