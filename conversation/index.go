// Package conversation maintains the directory of 1:1 conversations:
// search and filtering, unread aggregation, and focus tracking.
package conversation

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConversationExists indicates an Add with a duplicate id.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrConversationNotFound indicates the conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Participant is one side of a conversation, supplied by the hosting
// application at conversation-open time.
type Participant struct {
	ID          string
	DisplayName string
	// Type is a host-defined participant category (for a job board:
	// company, recruiter, candidate). Filters match it exactly.
	Type string
}

// Conversation is a bounded channel between two fixed participants.
type Conversation struct {
	ID          string
	Self        Participant
	Counterpart Participant
	// UnreadCount counts counterpart-authored messages that arrived
	// while the conversation was not focused.
	UnreadCount int
	// LastMessageSummary and LastActivity mirror the tail of the
	// message log.
	LastMessageSummary string
	LastActivity       time.Time
	// KeyScope names the encryption key used for this conversation's
	// payloads (device-global or per-conversation).
	KeyScope string
}

// Filter is a conjunction of predicates for List. Zero-valued fields
// are inactive; an empty filter matches everything.
type Filter struct {
	// Text matches case-insensitively as a substring against the
	// counterpart display name and the last-message summary.
	Text string
	// CounterpartType matches the counterpart's Type exactly.
	CounterpartType string
	// ActiveSince/ActiveBefore bound LastActivity.
	ActiveSince  time.Time
	ActiveBefore time.Time
}

func (f Filter) matches(c *Conversation) bool {
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		name := strings.ToLower(c.Counterpart.DisplayName)
		summary := strings.ToLower(c.LastMessageSummary)
		if !strings.Contains(name, needle) && !strings.Contains(summary, needle) {
			return false
		}
	}
	if f.CounterpartType != "" && c.Counterpart.Type != f.CounterpartType {
		return false
	}
	if !f.ActiveSince.IsZero() && c.LastActivity.Before(f.ActiveSince) {
		return false
	}
	if !f.ActiveBefore.IsZero() && !c.LastActivity.Before(f.ActiveBefore) {
		return false
	}
	return true
}

// Index is the conversation directory.
type Index struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	focused       string
}

// NewIndex creates an empty directory.
func NewIndex() *Index {
	return &Index{conversations: make(map[string]*Conversation)}
}

// NewID returns a fresh conversation identifier.
func NewID() string {
	return uuid.NewString()
}

// Add registers a conversation seeded by the hosting application.
// Conversations persist for the application's lifetime.
func (ix *Index) Add(conv Conversation) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.conversations[conv.ID]; exists {
		return ErrConversationExists
	}

	c := conv
	ix.conversations[conv.ID] = &c

	logrus.WithFields(logrus.Fields{
		"function":        "Add",
		"conversation_id": conv.ID,
		"counterpart":     conv.Counterpart.DisplayName,
	}).Info("Conversation registered")

	return nil
}

// Get returns a copy of one conversation.
func (ix *Index) Get(id string) (Conversation, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	c, ok := ix.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// List returns conversations matching every active filter predicate,
// ordered by LastActivity descending (ties by id for stability).
func (ix *Index) List(f Filter) []Conversation {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Conversation, 0, len(ix.conversations))
	for _, c := range ix.conversations {
		if f.matches(c) {
			out = append(out, *c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})

	return out
}

// Focus marks the conversation as the one currently on screen and
// clears its unread count.
func (ix *Index) Focus(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	c, ok := ix.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}

	ix.focused = id
	c.UnreadCount = 0
	return nil
}

// Blur clears the focused conversation.
func (ix *Index) Blur() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.focused = ""
}

// Focused returns the id of the focused conversation, if any.
func (ix *Index) Focused() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.focused
}

// RecordActivity updates the tail-derived fields after an append and
// maintains the unread count. It reports whether the message arrived
// from the counterpart while the conversation was unfocused, which is
// exactly the condition under which a notification may fire.
func (ix *Index) RecordActivity(id, summary string, at time.Time, fromCounterpart bool) (unfocusedArrival bool, err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	c, ok := ix.conversations[id]
	if !ok {
		return false, ErrConversationNotFound
	}

	c.LastMessageSummary = summary
	if at.After(c.LastActivity) {
		c.LastActivity = at
	}

	if fromCounterpart && ix.focused != id {
		c.UnreadCount++
		return true, nil
	}
	return false, nil
}

// TotalUnread returns the sum of unread counts across all conversations.
func (ix *Index) TotalUnread() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	total := 0
	for _, c := range ix.conversations {
		total += c.UnreadCount
	}
	return total
}
