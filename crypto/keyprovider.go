package crypto

import "sync"

// KeyProvider supplies durable storage for symmetric keys, keyed by an
// opaque scope string (device-global or per-conversation).
type KeyProvider interface {
	// GetKey returns the key stored for scope, with ok=false when no key
	// has been provisioned yet.
	GetKey(scope string) (key Key, ok bool, err error)
	// PutKey stores the key for scope, replacing any previous value.
	PutKey(scope string, key Key) error
}

// MemoryKeyProvider is an in-memory KeyProvider for tests and ephemeral use.
type MemoryKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// NewMemoryKeyProvider creates an empty in-memory provider.
func NewMemoryKeyProvider() *MemoryKeyProvider {
	return &MemoryKeyProvider{keys: make(map[string]Key)}
}

// GetKey returns the key stored for scope.
func (p *MemoryKeyProvider) GetKey(scope string) (Key, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.keys[scope]
	return key, ok, nil
}

// PutKey stores the key for scope.
func (p *MemoryKeyProvider) PutKey(scope string, key Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[scope] = key
	return nil
}
