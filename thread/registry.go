// Package thread tracks reply-to relationships between messages.
//
// Threading is single-level: a reply to a reply attaches its count to
// the immediate parent, never transitively to an earlier root.
package thread

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/msgcore/message"
)

// ErrInvalidThreadReference indicates a reply targeting a message that
// does not exist in the same conversation, or that was not created
// strictly earlier than the reply. Rejected at append time, never
// silently dropped.
var ErrInvalidThreadReference = errors.New("invalid thread reference")

// Registry records reply relationships and maintains reply counts on
// root messages.
type Registry struct {
	store *message.Store

	mu      sync.Mutex
	replies map[string]map[string][]string // conversation -> root id -> reply ids in registration order
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store *message.Store) *Registry {
	return &Registry{
		store:   store,
		replies: make(map[string]map[string][]string),
	}
}

// Validate checks a prospective reply reference before append. The root
// must exist in the same conversation and be created strictly earlier
// than the reply. A zero replyCreatedAt skips the ordering check (the
// reply will be stamped on append and registered with the ID tie-break).
func (r *Registry) Validate(conversationID, replyToID string, replyCreatedAt time.Time) error {
	root, ok := r.store.Get(conversationID, replyToID)
	if !ok {
		return ErrInvalidThreadReference
	}
	if !replyCreatedAt.IsZero() && !root.CreatedAt.Before(replyCreatedAt) {
		return ErrInvalidThreadReference
	}
	return nil
}

// Register records an appended reply against its root, atomically
// incrementing the root's thread reply count. Ordering follows the log:
// the root must sort before the reply by CreatedAt, ties broken by ID.
// The tie-break matters under a frozen clock, where a reply legitimately
// shares its root's timestamp but always carries a greater assigned ID.
func (r *Registry) Register(conversationID, replyToID, replyID string) error {
	reply, ok := r.store.Get(conversationID, replyID)
	if !ok {
		return message.ErrMessageNotFound
	}
	root, ok := r.store.Get(conversationID, replyToID)
	if !ok {
		return ErrInvalidThreadReference
	}
	if root.CreatedAt.After(reply.CreatedAt) ||
		(root.CreatedAt.Equal(reply.CreatedAt) && root.ID >= reply.ID) {
		return ErrInvalidThreadReference
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Mutate(conversationID, replyToID, message.Patch{IncrementThreadReplies: true}); err != nil {
		return err
	}

	if r.replies[conversationID] == nil {
		r.replies[conversationID] = make(map[string][]string)
	}
	r.replies[conversationID][replyToID] = append(r.replies[conversationID][replyToID], replyID)

	logrus.WithFields(logrus.Fields{
		"function":        "Register",
		"conversation_id": conversationID,
		"root_id":         replyToID,
		"reply_id":        replyID,
	}).Debug("Thread reply registered")

	return nil
}

// RepliesOf returns the replies registered against a root message, in
// registration order, reflecting current message state.
func (r *Registry) RepliesOf(conversationID, messageID string) []message.Message {
	r.mu.Lock()
	ids := append([]string(nil), r.replies[conversationID][messageID]...)
	r.mu.Unlock()

	out := make([]message.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := r.store.Get(conversationID, id); ok {
			out = append(out, msg)
		}
	}
	return out
}

// ReplyCount returns the number of replies registered against a root.
func (r *Registry) ReplyCount(conversationID, messageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies[conversationID][messageID])
}
