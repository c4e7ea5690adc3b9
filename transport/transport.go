// Package transport defines the wire surface a real backend plugs into.
//
// The core itself is transport-agnostic; this package carries messages,
// typing edges, and delivery acknowledgements between two clients. The
// in-process Loopback pair serves tests and demos, and WSTransport
// frames the same envelopes over a websocket secured by a Noise-IK
// session.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/msgcore/message"
)

// ErrClosed indicates the transport has been shut down.
var ErrClosed = errors.New("transport closed")

// WireMessage is the message representation that crosses the wire.
// Author is implicit: the receiver attributes it to the counterpart.
type WireMessage struct {
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	CreatedAt      time.Time   `json:"created_at"`
	ReplyToID      string      `json:"reply_to_id,omitempty"`
	Payload        WirePayload `json:"payload"`
}

// WirePayload is the tagged payload encoding of message.Kind.
type WirePayload struct {
	Type            string  `json:"type"`
	Ciphertext      string  `json:"ciphertext,omitempty"`
	AudioRef        string  `json:"audio_ref,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// OpusFrames optionally carries the encoded audio of a voice payload
	// so the receiver can verify the declared duration by decoding.
	// Clients that only ship a reference leave it empty.
	OpusFrames [][]byte `json:"opus_frames,omitempty"`
	FileRef    string   `json:"file_ref,omitempty"`
	FileName   string   `json:"file_name,omitempty"`
	SizeBytes  int64    `json:"size_bytes,omitempty"`
}

// EncodePayload converts a message.Kind to its wire form.
func EncodePayload(kind message.Kind) WirePayload {
	switch k := kind.(type) {
	case message.TextKind:
		return WirePayload{Type: "text", Ciphertext: k.Ciphertext}
	case message.VoiceKind:
		return WirePayload{Type: "voice", AudioRef: k.AudioRef, DurationSeconds: k.DurationSeconds}
	case message.ImageKind:
		return WirePayload{Type: "image", FileRef: k.FileRef, FileName: k.FileName}
	case message.DocumentKind:
		return WirePayload{Type: "document", FileRef: k.FileRef, FileName: k.FileName, SizeBytes: k.SizeBytes}
	default:
		return WirePayload{Type: "text"}
	}
}

// DecodePayload converts a wire payload back to a message.Kind.
func DecodePayload(p WirePayload) (message.Kind, error) {
	switch p.Type {
	case "text":
		return message.TextKind{Ciphertext: p.Ciphertext}, nil
	case "voice":
		return message.VoiceKind{AudioRef: p.AudioRef, DurationSeconds: p.DurationSeconds}, nil
	case "image":
		return message.ImageKind{FileRef: p.FileRef, FileName: p.FileName}, nil
	case "document":
		return message.DocumentKind{FileRef: p.FileRef, FileName: p.FileName, SizeBytes: p.SizeBytes}, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", p.Type)
	}
}

// IncomingHandler receives counterpart messages.
type IncomingHandler func(msg WireMessage)

// TypingEdgeHandler receives counterpart typing edges.
type TypingEdgeHandler func(conversationID string, isTyping bool)

// DeliveryAckHandler receives delivery acknowledgements for messages
// this side sent.
type DeliveryAckHandler func(conversationID, messageID string, newStatus message.Status)

// Transport carries the three event streams between two clients.
type Transport interface {
	SendMessage(conversationID string, msg WireMessage) error
	OnIncoming(handler IncomingHandler)
	SendTypingEdge(conversationID string, isTyping bool) error
	OnTypingEdge(handler TypingEdgeHandler)
	SendDeliveryAck(conversationID, messageID string, newStatus message.Status) error
	OnDeliveryAck(handler DeliveryAckHandler)
	Close() error
}

// envelope is the frame format shared by wire transports.
type envelope struct {
	Kind           string       `json:"kind"` // msg | typing | ack
	ConversationID string       `json:"conversation_id,omitempty"`
	MessageID      string       `json:"message_id,omitempty"`
	IsTyping       bool         `json:"is_typing,omitempty"`
	Status         uint8        `json:"status,omitempty"`
	Message        *WireMessage `json:"message,omitempty"`
}

func marshalEnvelope(e envelope) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
