package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Key is a 32-byte symmetric encryption key.
type Key [32]byte

// Nonce is a 24-byte value used for encryption.
type Nonce [24]byte

// EnvelopePrefix marks a payload as sealed by this package.
const EnvelopePrefix = "box:v1:"

// MaxPayloadSize limits plaintext size (1MB) to prevent excessive memory usage.
const MaxPayloadSize = 1024 * 1024

var (
	// ErrCryptoUnavailable indicates the key is missing or the sealed payload
	// cannot be opened with it. The message is permanently unreadable and
	// should be rendered as a placeholder, never retried automatically.
	ErrCryptoUnavailable = errors.New("encryption key unavailable or payload unreadable")
	// ErrEmptyPayload indicates an empty plaintext was passed to Encrypt.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrPayloadTooLarge indicates the plaintext exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// GenerateKey creates a cryptographically secure random key.
func GenerateKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, err
	}
	return key, nil
}

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// IsEnveloped reports whether s carries the sealed payload envelope.
func IsEnveloped(s string) bool {
	return strings.HasPrefix(s, EnvelopePrefix)
}

// EncryptSymmetric seals plaintext under key and wraps it in the
// versioned envelope. The nonce is prepended to the sealed bytes before
// base64 encoding.
func EncryptSymmetric(plaintext string, key Key) (string, error) {
	if len(plaintext) == 0 {
		return "", ErrEmptyPayload
	}
	if len(plaintext) > MaxPayloadSize {
		return "", ErrPayloadTooLarge
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return "", err
	}

	// Authenticated symmetric encryption via NaCl secretbox.
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), (*[24]byte)(&nonce), (*[32]byte)(&key))

	return EnvelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSymmetric opens an enveloped payload with key. Input that does
// not carry the envelope is treated as legacy plaintext and returned
// unchanged. An envelope that cannot be decoded or authenticated yields
// ErrCryptoUnavailable.
func DecryptSymmetric(input string, key Key) (string, error) {
	if !IsEnveloped(input) {
		return input, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(input, EnvelopePrefix))
	if err != nil || len(raw) <= 24 {
		return "", ErrCryptoUnavailable
	}

	var nonce Nonce
	copy(nonce[:], raw[:24])

	opened, ok := secretbox.Open(nil, raw[24:], (*[24]byte)(&nonce), (*[32]byte)(&key))
	if !ok {
		return "", ErrCryptoUnavailable
	}

	return string(opened), nil
}

// Box encrypts and decrypts message bodies for one key scope.
//
// The key is obtained through the injected KeyProvider; if no key exists
// for the scope yet, one is generated and persisted on first use.
type Box struct {
	keys  KeyProvider
	scope string
}

// NewBox creates a Box bound to the given provider and key scope.
func NewBox(keys KeyProvider, scope string) *Box {
	return &Box{keys: keys, scope: scope}
}

// Encrypt seals plaintext under the scope's key, provisioning a new key
// if none exists yet.
func (b *Box) Encrypt(plaintext string) (string, error) {
	key, err := b.loadOrCreateKey()
	if err != nil {
		return "", err
	}
	return EncryptSymmetric(plaintext, key)
}

// Decrypt opens input with the scope's key. Non-enveloped input is
// returned unchanged. A missing key for an enveloped payload yields
// ErrCryptoUnavailable.
func (b *Box) Decrypt(input string) (string, error) {
	if !IsEnveloped(input) {
		return input, nil
	}

	key, ok, err := b.keys.GetKey(b.scope)
	if err != nil {
		return "", ErrCryptoUnavailable
	}
	if !ok {
		return "", ErrCryptoUnavailable
	}

	return DecryptSymmetric(input, key)
}

func (b *Box) loadOrCreateKey() (Key, error) {
	key, ok, err := b.keys.GetKey(b.scope)
	if err != nil {
		return Key{}, err
	}
	if ok {
		return key, nil
	}

	key, err = GenerateKey()
	if err != nil {
		return Key{}, err
	}
	if err := b.keys.PutKey(b.scope, key); err != nil {
		return Key{}, err
	}
	return key, nil
}
