package transport

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
)

var (
	// ErrHandshakeNotComplete indicates transport encryption was used
	// before the handshake finished.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates a handshake step after completion.
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// SessionRole defines whether this side initiates or responds.
type SessionRole uint8

const (
	// Initiator starts the handshake and must know the peer's static key.
	Initiator SessionRole = iota
	// Responder answers the handshake.
	Responder
)

// GenerateStaticKeypair creates a Curve25519 keypair for a transport
// endpoint. The private key belongs in the host's durable key storage.
func GenerateStaticKeypair() (private, public []byte, err error) {
	key, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate static keypair: %w", err)
	}
	return key.Private, key.Public, nil
}

// NoiseSession secures transport frames with the Noise IK pattern:
// mutual authentication and forward secrecy, with the initiator knowing
// the responder's static public key up front.
type NoiseSession struct {
	role SessionRole

	mu         sync.Mutex
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// NewNoiseSession creates a session. staticPriv is this side's long-term
// private key; peerPub is required for the initiator and ignored for the
// responder.
func NewNoiseSession(staticPriv, staticPub, peerPub []byte, role SessionRole) (*NoiseSession, error) {
	if len(staticPriv) != 32 || len(staticPub) != 32 {
		return nil, fmt.Errorf("static keypair must be 32 bytes each")
	}
	if role == Initiator && len(peerPub) != 32 {
		return nil, fmt.Errorf("initiator requires peer public key (32 bytes), got %d", len(peerPub))
	}

	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: noise.DHKey{Private: append([]byte(nil), staticPriv...), Public: append([]byte(nil), staticPub...)},
	}
	if role == Initiator {
		config.PeerStatic = append([]byte(nil), peerPub...)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &NoiseSession{role: role, state: state}, nil
}

// WriteHandshake produces the next handshake message to send. The
// initiator calls it first with received=nil; the responder calls it
// with the initiator's message. The IK pattern completes in two
// messages: the responder is complete after writing its reply, the
// initiator after reading it.
func (s *NoiseSession) WriteHandshake(received []byte) (out []byte, complete bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return nil, false, ErrHandshakeComplete
	}

	if s.role == Initiator {
		msg, sendCipher, recvCipher, err := s.state.WriteMessage(nil, nil)
		if err != nil {
			return nil, false, fmt.Errorf("initiator write failed: %w", err)
		}
		s.sendCipher = sendCipher
		s.recvCipher = recvCipher
		return msg, false, nil
	}

	if received == nil {
		return nil, false, fmt.Errorf("responder requires received message")
	}
	if _, _, _, err := s.state.ReadMessage(nil, received); err != nil {
		return nil, false, fmt.Errorf("responder read failed: %w", err)
	}
	msg, sendCipher, recvCipher, err := s.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, false, fmt.Errorf("responder write failed: %w", err)
	}
	s.sendCipher = sendCipher
	s.recvCipher = recvCipher
	s.complete = true
	return msg, true, nil
}

// ReadHandshake processes the responder's reply on the initiator side,
// completing the handshake.
func (s *NoiseSession) ReadHandshake(received []byte) (complete bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return false, ErrHandshakeComplete
	}
	if s.role != Initiator {
		return false, fmt.Errorf("only initiator reads the handshake reply")
	}

	_, recvCipher, sendCipher, err := s.state.ReadMessage(nil, received)
	if err != nil {
		return false, fmt.Errorf("initiator read reply failed: %w", err)
	}
	s.recvCipher = recvCipher
	s.sendCipher = sendCipher
	s.complete = true
	return true, nil
}

// IsComplete reports whether transport ciphers are established.
func (s *NoiseSession) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Encrypt seals a transport frame. Only valid after the handshake.
func (s *NoiseSession) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.complete {
		return nil, ErrHandshakeNotComplete
	}
	return s.sendCipher.Encrypt(nil, nil, plaintext)
}

// Decrypt opens a transport frame. Only valid after the handshake.
func (s *NoiseSession) Decrypt(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.complete {
		return nil, ErrHandshakeNotComplete
	}
	return s.recvCipher.Decrypt(nil, nil, data)
}
