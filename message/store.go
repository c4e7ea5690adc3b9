package message

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrMessageNotFound indicates the message does not exist in the conversation.
	ErrMessageNotFound = errors.New("message not found")
	// ErrEmptyKind indicates an append without a payload variant.
	ErrEmptyKind = errors.New("message kind must be set")
	// ErrStatusRegression is returned by Mutate when a patch asks only for
	// a backward status move. A regression bundled with other patch fields
	// is skipped silently while the rest of the patch applies.
	ErrStatusRegression = errors.New("status may not regress")
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Patch enumerates the only legal post-append mutations. Author,
// CreatedAt, and Kind are immutable by construction: there is no way to
// express a change to them through this type.
type Patch struct {
	// Status advances the delivery status. Backward values are ignored.
	Status *Status
	// ToggleReaction toggles one author's reaction for one emoji.
	ToggleReaction *ReactionToggle
	// IncrementThreadReplies bumps the thread reply counter by one.
	IncrementThreadReplies bool
}

// ReactionToggle identifies a single reaction toggle operation.
type ReactionToggle struct {
	Emoji  string
	Author string
}

// Store is the authoritative in-memory message log, one ordered slice
// per conversation. Append and Mutate are atomic with respect to Query.
type Store struct {
	mu    sync.RWMutex
	logs  map[string][]*Message
	byID  map[string]map[string]*Message
	seq   uint64
	clock TimeProvider
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		logs:  make(map[string][]*Message),
		byID:  make(map[string]map[string]*Message),
		clock: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (s *Store) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = tp
}

// Append adds a message to the conversation log and returns its assigned
// ID. The message enters with StatusSent unless it carries a later
// status already (incoming messages replayed from a transport). A zero
// CreatedAt is stamped with the current time.
func (s *Store) Append(conversationID string, msg *Message) (string, error) {
	if msg == nil || msg.Kind == nil {
		return "", ErrEmptyKind
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.clock.Now()
	}
	if msg.ID == "" {
		msg.ID = s.nextID(msg.CreatedAt)
	}
	msg.ConversationID = conversationID
	if msg.Reactions == nil {
		msg.Reactions = make(map[string]map[string]struct{})
	}

	if s.byID[conversationID] == nil {
		s.byID[conversationID] = make(map[string]*Message)
	}
	if _, exists := s.byID[conversationID][msg.ID]; exists {
		return "", fmt.Errorf("duplicate message id %q in conversation %q", msg.ID, conversationID)
	}

	s.logs[conversationID] = append(s.logs[conversationID], msg)
	s.byID[conversationID][msg.ID] = msg

	logrus.WithFields(logrus.Fields{
		"function":        "Append",
		"conversation_id": conversationID,
		"message_id":      msg.ID,
		"author":          msg.Author.String(),
	}).Debug("Message appended")

	return msg.ID, nil
}

// Mutate applies a restricted patch to an existing message. A patch
// whose only effect would be a backward status move fails with
// ErrStatusRegression; an equal status is an idempotent no-op, and a
// regression alongside other fields is skipped while the rest applies.
func (s *Store) Mutate(conversationID, messageID string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[conversationID][messageID]
	if !ok {
		return ErrMessageNotFound
	}

	if patch.Status != nil {
		if *patch.Status > msg.Status {
			msg.Status = *patch.Status
		} else if *patch.Status < msg.Status && patch.ToggleReaction == nil && !patch.IncrementThreadReplies {
			return ErrStatusRegression
		}
	}

	if t := patch.ToggleReaction; t != nil {
		s.toggleReaction(msg, t.Emoji, t.Author)
	}

	if patch.IncrementThreadReplies {
		msg.ThreadReplyCount++
	}

	return nil
}

// Query returns the conversation's messages ordered by CreatedAt, ties
// broken by ID. The result is a deep copy reflecting the state at call
// time; it is safe to retain and re-issue the query for fresh state.
func (s *Store) Query(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	out := make([]Message, 0, len(log))
	for _, msg := range log {
		out = append(out, msg.clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// Get returns a copy of one message.
func (s *Store) Get(conversationID, messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[conversationID][messageID]
	if !ok {
		return Message{}, false
	}
	return msg.clone(), true
}

// Tail returns a copy of the most recently created message, if any.
func (s *Store) Tail(conversationID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	if len(log) == 0 {
		return Message{}, false
	}

	tail := log[0]
	for _, msg := range log[1:] {
		if msg.CreatedAt.After(tail.CreatedAt) ||
			(msg.CreatedAt.Equal(tail.CreatedAt) && msg.ID > tail.ID) {
			tail = msg
		}
	}
	return tail.clone(), true
}

// Len returns the number of messages in the conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[conversationID])
}

// nextID produces a sortable, time-ordered identifier. The sequence
// suffix keeps ids unique when multiple messages share a timestamp.
// Format: <unix_nano_padded>-<seq>.
func (s *Store) nextID(at time.Time) string {
	seq := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("%020d-%06d", at.UTC().UnixNano(), seq)
}

func (s *Store) toggleReaction(msg *Message, emoji, author string) {
	if emoji == "" || author == "" {
		return
	}

	set, ok := msg.Reactions[emoji]
	if !ok {
		set = make(map[string]struct{})
		msg.Reactions[emoji] = set
	}

	if _, held := set[author]; held {
		delete(set, author)
		if len(set) == 0 {
			delete(msg.Reactions, emoji)
		}
	} else {
		set[author] = struct{}{}
	}
}
