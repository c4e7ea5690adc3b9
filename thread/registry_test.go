package thread

import (
	"testing"
	"time"

	"github.com/opd-ai/msgcore/message"
)

func TestReplyRegistration(t *testing.T) {
	store := message.NewStore()
	registry := NewRegistry(store)

	rootID, _ := store.Append("c1", &message.Message{Kind: message.TextKind{Ciphertext: "root"}})
	replyID, _ := store.Append("c1", &message.Message{
		Kind:      message.TextKind{Ciphertext: "reply"},
		ReplyToID: rootID,
	})

	if err := registry.Register("c1", rootID, replyID); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	root, _ := store.Get("c1", rootID)
	if root.ThreadReplyCount != 1 {
		t.Errorf("ThreadReplyCount = %d, want 1", root.ThreadReplyCount)
	}

	replies := registry.RepliesOf("c1", rootID)
	if len(replies) != 1 || replies[0].ID != replyID {
		t.Errorf("RepliesOf = %v, want [%s]", replies, replyID)
	}
}

func TestReplyOrdering(t *testing.T) {
	store := message.NewStore()
	registry := NewRegistry(store)

	rootID, _ := store.Append("c1", &message.Message{Kind: message.TextKind{}})

	var replyIDs []string
	for i := 0; i < 3; i++ {
		id, _ := store.Append("c1", &message.Message{Kind: message.TextKind{}, ReplyToID: rootID})
		if err := registry.Register("c1", rootID, id); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		replyIDs = append(replyIDs, id)
	}

	replies := registry.RepliesOf("c1", rootID)
	if len(replies) != 3 {
		t.Fatalf("RepliesOf returned %d, want 3", len(replies))
	}
	for i, want := range replyIDs {
		if replies[i].ID != want {
			t.Errorf("reply[%d] = %s, want %s", i, replies[i].ID, want)
		}
	}

	root, _ := store.Get("c1", rootID)
	if root.ThreadReplyCount != 3 {
		t.Errorf("ThreadReplyCount = %d, want 3", root.ThreadReplyCount)
	}
}

func TestValidateRejectsUnknownRoot(t *testing.T) {
	store := message.NewStore()
	registry := NewRegistry(store)

	if err := registry.Validate("c1", "ghost", time.Time{}); err != ErrInvalidThreadReference {
		t.Errorf("expected ErrInvalidThreadReference, got %v", err)
	}
}

func TestValidateRejectsCrossConversation(t *testing.T) {
	store := message.NewStore()
	registry := NewRegistry(store)

	rootID, _ := store.Append("c1", &message.Message{Kind: message.TextKind{}})

	// The root lives in c1; a reply in c2 may not reference it.
	if err := registry.Validate("c2", rootID, time.Time{}); err != ErrInvalidThreadReference {
		t.Errorf("expected ErrInvalidThreadReference, got %v", err)
	}
}

func TestValidateRejectsEarlierReply(t *testing.T) {
	store := message.NewStore()
	registry := NewRegistry(store)

	rootID, _ := store.Append("c1", &message.Message{
		Kind:      message.TextKind{},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	// A reply stamped before (or at) the root's creation is invalid.
	before := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if err := registry.Validate("c1", rootID, before); err != ErrInvalidThreadReference {
		t.Errorf("expected ErrInvalidThreadReference for earlier reply, got %v", err)
	}

	same := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := registry.Validate("c1", rootID, same); err != ErrInvalidThreadReference {
		t.Errorf("expected ErrInvalidThreadReference for same-instant reply, got %v", err)
	}
}

// frozenClock returns the same instant for every append.
type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }

func TestRegisterSameInstantReply(t *testing.T) {
	store := message.NewStore()
	store.SetTimeProvider(frozenClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})
	registry := NewRegistry(store)

	rootID, _ := store.Append("c1", &message.Message{Kind: message.TextKind{}})
	replyID, _ := store.Append("c1", &message.Message{
		Kind:      message.TextKind{},
		ReplyToID: rootID,
	})

	// Root and reply share a timestamp; the reply's greater assigned ID
	// breaks the tie, same as log ordering does.
	if err := registry.Register("c1", rootID, replyID); err != nil {
		t.Fatalf("Register failed for same-instant reply: %v", err)
	}

	root, _ := store.Get("c1", rootID)
	if root.ThreadReplyCount != 1 {
		t.Errorf("ThreadReplyCount = %d, want 1", root.ThreadReplyCount)
	}

	t.Run("reversed direction still rejected", func(t *testing.T) {
		// The earlier-appended message may not reply to the later one.
		if err := registry.Register("c1", replyID, rootID); err != ErrInvalidThreadReference {
			t.Errorf("expected ErrInvalidThreadReference, got %v", err)
		}
	})
}

func TestNestedReplyAttachesToImmediateParent(t *testing.T) {
	store := message.NewStore()
	registry := NewRegistry(store)

	rootID, _ := store.Append("c1", &message.Message{Kind: message.TextKind{}})
	replyID, _ := store.Append("c1", &message.Message{Kind: message.TextKind{}, ReplyToID: rootID})
	registry.Register("c1", rootID, replyID)

	// Reply to the reply: count lands on the reply, not the root.
	nestedID, _ := store.Append("c1", &message.Message{Kind: message.TextKind{}, ReplyToID: replyID})
	if err := registry.Register("c1", replyID, nestedID); err != nil {
		t.Fatalf("Register nested failed: %v", err)
	}

	root, _ := store.Get("c1", rootID)
	reply, _ := store.Get("c1", replyID)
	if root.ThreadReplyCount != 1 {
		t.Errorf("root ThreadReplyCount = %d, want 1", root.ThreadReplyCount)
	}
	if reply.ThreadReplyCount != 1 {
		t.Errorf("immediate parent ThreadReplyCount = %d, want 1", reply.ThreadReplyCount)
	}
}
