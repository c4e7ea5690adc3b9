package message

import (
	"time"
)

// Author identifies which participant wrote a message.
type Author uint8

const (
	// AuthorSelf is the local participant.
	AuthorSelf Author = iota
	// AuthorCounterpart is the remote participant.
	AuthorCounterpart
)

// String returns the author label used in reaction sets and logs.
func (a Author) String() string {
	if a == AuthorSelf {
		return "self"
	}
	return "counterpart"
}

// Status represents the delivery state of a message.
type Status uint8

const (
	// StatusSent means the message has been appended but not confirmed.
	StatusSent Status = iota
	// StatusDelivered means the message reached the counterpart's client.
	StatusDelivered
	// StatusRead means the counterpart has opened the conversation.
	StatusRead
)

// String returns a human-readable status label.
func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// Kind is the closed set of message payload variants. Every consumer
// must switch exhaustively over the concrete types below; the unexported
// method prevents variants from being added outside this package.
type Kind interface {
	isKind()
	// Summary returns a short human-readable description for conversation
	// previews and notifications. It never exposes ciphertext.
	Summary() string
}

// TextKind is an encrypted text payload. Ciphertext is the enveloped
// sealed body; plaintext exists only transiently during compose/render.
type TextKind struct {
	Ciphertext string
}

// VoiceKind is a recorded voice payload.
type VoiceKind struct {
	AudioRef        string
	DurationSeconds float64
}

// ImageKind is an image attachment payload.
type ImageKind struct {
	FileRef  string
	FileName string
}

// DocumentKind is a generic document attachment payload.
type DocumentKind struct {
	FileRef   string
	FileName  string
	SizeBytes int64
}

func (TextKind) isKind()     {}
func (VoiceKind) isKind()    {}
func (ImageKind) isKind()    {}
func (DocumentKind) isKind() {}

// Summary returns a preview label for text payloads.
func (TextKind) Summary() string { return "Encrypted message" }

// Summary returns a preview label for voice payloads.
func (VoiceKind) Summary() string { return "Voice message" }

// Summary returns a preview label for image payloads.
func (k ImageKind) Summary() string { return "Image: " + k.FileName }

// Summary returns a preview label for document payloads.
func (k DocumentKind) Summary() string { return "Document: " + k.FileName }

// Message is one entry in a conversation log.
type Message struct {
	ID             string
	ConversationID string
	Author         Author
	Kind           Kind
	CreatedAt      time.Time
	Status         Status
	// Reactions maps an emoji symbol to the set of author identities
	// currently holding that reaction.
	Reactions        map[string]map[string]struct{}
	ReplyToID        string
	ThreadReplyCount int
}

// HasReaction reports whether author currently holds the emoji reaction.
func (m *Message) HasReaction(emoji, author string) bool {
	set, ok := m.Reactions[emoji]
	if !ok {
		return false
	}
	_, held := set[author]
	return held
}

// clone returns a deep copy safe to hand to readers.
func (m *Message) clone() Message {
	out := *m
	if m.Reactions != nil {
		out.Reactions = make(map[string]map[string]struct{}, len(m.Reactions))
		for emoji, set := range m.Reactions {
			copied := make(map[string]struct{}, len(set))
			for author := range set {
				copied[author] = struct{}{}
			}
			out.Reactions[emoji] = copied
		}
	}
	return out
}
