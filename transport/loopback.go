package transport

import (
	"sync"

	"github.com/opd-ai/msgcore/message"
)

// Loopback is an in-process Transport half. NewLoopbackPair returns two
// halves wired to each other; sends on one side invoke the handlers on
// the other asynchronously, mimicking a network hop.
type Loopback struct {
	mu       sync.Mutex
	peer     *Loopback
	incoming IncomingHandler
	typing   TypingEdgeHandler
	ack      DeliveryAckHandler
	closed   bool
	wg       sync.WaitGroup
}

// NewLoopbackPair creates two connected transport halves.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

// SendMessage delivers a message to the peer's incoming handler.
func (l *Loopback) SendMessage(conversationID string, msg WireMessage) error {
	return l.deliver(func(peer *Loopback, handler IncomingHandler, _ TypingEdgeHandler, _ DeliveryAckHandler) {
		if handler != nil {
			handler(msg)
		}
	})
}

// SendTypingEdge delivers a typing edge to the peer.
func (l *Loopback) SendTypingEdge(conversationID string, isTyping bool) error {
	return l.deliver(func(peer *Loopback, _ IncomingHandler, handler TypingEdgeHandler, _ DeliveryAckHandler) {
		if handler != nil {
			handler(conversationID, isTyping)
		}
	})
}

// SendDeliveryAck delivers an acknowledgement to the peer.
func (l *Loopback) SendDeliveryAck(conversationID, messageID string, newStatus message.Status) error {
	return l.deliver(func(peer *Loopback, _ IncomingHandler, _ TypingEdgeHandler, handler DeliveryAckHandler) {
		if handler != nil {
			handler(conversationID, messageID, newStatus)
		}
	})
}

// OnIncoming registers the incoming-message handler.
func (l *Loopback) OnIncoming(handler IncomingHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.incoming = handler
}

// OnTypingEdge registers the typing-edge handler.
func (l *Loopback) OnTypingEdge(handler TypingEdgeHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typing = handler
}

// OnDeliveryAck registers the acknowledgement handler.
func (l *Loopback) OnDeliveryAck(handler DeliveryAckHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ack = handler
}

// Close stops delivery in both directions from this half.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

// Flush waits for deliveries in flight. Intended for tests.
func (l *Loopback) Flush() {
	l.wg.Wait()
	l.peer.wg.Wait()
}

func (l *Loopback) deliver(fn func(peer *Loopback, in IncomingHandler, typ TypingEdgeHandler, ack DeliveryAckHandler)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	peer := l.peer
	l.mu.Unlock()

	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return ErrClosed
	}
	in, typ, ack := peer.incoming, peer.typing, peer.ack
	peer.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn(peer, in, typ, ack)
	}()
	return nil
}
