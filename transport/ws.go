package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/msgcore/message"
)

// WSTransport frames transport envelopes over a websocket connection,
// each frame sealed by a completed Noise session. The caller owns
// dialing or upgrading the connection and running the handshake; see
// RunHandshake.
type WSTransport struct {
	conn    *websocket.Conn
	session *NoiseSession

	writeMu sync.Mutex

	mu       sync.Mutex
	incoming IncomingHandler
	typing   TypingEdgeHandler
	ack      DeliveryAckHandler
	closed   bool

	done chan struct{}
}

// NewWSTransport wraps an open connection and a completed Noise session
// and starts the read loop.
func NewWSTransport(conn *websocket.Conn, session *NoiseSession) (*WSTransport, error) {
	if !session.IsComplete() {
		return nil, ErrHandshakeNotComplete
	}

	t := &WSTransport{
		conn:    conn,
		session: session,
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// RunHandshake performs the two-message Noise IK exchange over the
// connection. The initiator sends first; the responder replies.
func RunHandshake(conn *websocket.Conn, session *NoiseSession, role SessionRole) error {
	if role == Initiator {
		msg, _, err := session.WriteHandshake(nil)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return fmt.Errorf("failed to send handshake: %w", err)
		}
		_, reply, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read handshake reply: %w", err)
		}
		if _, err := session.ReadHandshake(reply); err != nil {
			return err
		}
		return nil
	}

	_, first, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read handshake: %w", err)
	}
	reply, _, err := session.WriteHandshake(first)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
		return fmt.Errorf("failed to send handshake reply: %w", err)
	}
	return nil
}

// SendMessage sends a message envelope.
func (t *WSTransport) SendMessage(conversationID string, msg WireMessage) error {
	return t.send(envelope{Kind: "msg", ConversationID: conversationID, Message: &msg})
}

// SendTypingEdge sends a typing-edge envelope.
func (t *WSTransport) SendTypingEdge(conversationID string, isTyping bool) error {
	return t.send(envelope{Kind: "typing", ConversationID: conversationID, IsTyping: isTyping})
}

// SendDeliveryAck sends an acknowledgement envelope.
func (t *WSTransport) SendDeliveryAck(conversationID, messageID string, newStatus message.Status) error {
	return t.send(envelope{Kind: "ack", ConversationID: conversationID, MessageID: messageID, Status: uint8(newStatus)})
}

// OnIncoming registers the incoming-message handler.
func (t *WSTransport) OnIncoming(handler IncomingHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incoming = handler
}

// OnTypingEdge registers the typing-edge handler.
func (t *WSTransport) OnTypingEdge(handler TypingEdgeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = handler
}

// OnDeliveryAck registers the acknowledgement handler.
func (t *WSTransport) OnDeliveryAck(handler DeliveryAckHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ack = handler
}

// Close shuts the connection down.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.conn.Close()
	<-t.done
	return err
}

func (t *WSTransport) send(e envelope) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	plain, err := marshalEnvelope(e)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	sealed, err := t.session.Encrypt(plain)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, sealed)
}

func (t *WSTransport) readLoop() {
	defer close(t.done)

	for {
		_, sealed, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"error":    err.Error(),
				}).Warn("Websocket read failed")
			}
			return
		}

		plain, err := t.session.Decrypt(sealed)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err.Error(),
			}).Warn("Dropping undecryptable frame")
			continue
		}

		e, err := unmarshalEnvelope(plain)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err.Error(),
			}).Warn("Dropping malformed envelope")
			continue
		}

		t.dispatch(e)
	}
}

func (t *WSTransport) dispatch(e envelope) {
	t.mu.Lock()
	incoming, typing, ack := t.incoming, t.typing, t.ack
	t.mu.Unlock()

	switch e.Kind {
	case "msg":
		if incoming != nil && e.Message != nil {
			incoming(*e.Message)
		}
	case "typing":
		if typing != nil {
			typing(e.ConversationID, e.IsTyping)
		}
	case "ack":
		if ack != nil {
			ack(e.ConversationID, e.MessageID, message.Status(e.Status))
		}
	default:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"kind":     e.Kind,
		}).Debug("Ignoring unknown envelope kind")
	}
}
