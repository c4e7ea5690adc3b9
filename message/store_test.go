package message

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable TimeProvider for deterministic ordering tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	store := NewStore()
	clock := newFakeClock()
	store.SetTimeProvider(clock)

	id, err := store.Append("c1", &Message{Author: AuthorSelf, Kind: TextKind{Ciphertext: "box:v1:aaa"}})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id == "" {
		t.Fatal("Append returned empty id")
	}

	msg, ok := store.Get("c1", id)
	if !ok {
		t.Fatal("Get did not find appended message")
	}
	if msg.Status != StatusSent {
		t.Errorf("new message status = %v, want StatusSent", msg.Status)
	}
	if !msg.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want clock time %v", msg.CreatedAt, clock.Now())
	}
	if msg.ConversationID != "c1" {
		t.Errorf("ConversationID = %q, want c1", msg.ConversationID)
	}
}

func TestAppendRejectsMissingKind(t *testing.T) {
	store := NewStore()
	if _, err := store.Append("c1", &Message{}); err != ErrEmptyKind {
		t.Errorf("expected ErrEmptyKind, got %v", err)
	}
	if _, err := store.Append("c1", nil); err != ErrEmptyKind {
		t.Errorf("expected ErrEmptyKind for nil message, got %v", err)
	}
}

func TestQueryOrdering(t *testing.T) {
	store := NewStore()
	clock := newFakeClock()
	store.SetTimeProvider(clock)

	// Append out of timestamp order to prove Query sorts.
	late := &Message{Kind: TextKind{}, CreatedAt: clock.Now().Add(10 * time.Second)}
	early := &Message{Kind: TextKind{}, CreatedAt: clock.Now().Add(1 * time.Second)}
	middle := &Message{Kind: TextKind{}, CreatedAt: clock.Now().Add(5 * time.Second)}

	for _, m := range []*Message{late, early, middle} {
		if _, err := store.Append("c1", m); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got := store.Query("c1")
	if len(got) != 3 {
		t.Fatalf("Query returned %d messages, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Errorf("messages out of order at index %d", i)
		}
	}
}

func TestQueryTieBreakByID(t *testing.T) {
	store := NewStore()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	a := &Message{Kind: TextKind{}, CreatedAt: ts, ID: "00002"}
	b := &Message{Kind: TextKind{}, CreatedAt: ts, ID: "00001"}

	store.Append("c1", a)
	store.Append("c1", b)

	got := store.Query("c1")
	if got[0].ID != "00001" || got[1].ID != "00002" {
		t.Errorf("tie not broken by id: got [%s, %s]", got[0].ID, got[1].ID)
	}
}

func TestStatusMonotonicity(t *testing.T) {
	store := NewStore()
	id, _ := store.Append("c1", &Message{Kind: TextKind{}})

	advance := func(s Status) {
		if err := store.Mutate("c1", id, Patch{Status: &s}); err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
	}

	advance(StatusDelivered)
	advance(StatusRead)

	// A regression-only patch is rejected and leaves status untouched.
	for _, s := range []Status{StatusDelivered, StatusSent} {
		s := s
		if err := store.Mutate("c1", id, Patch{Status: &s}); !errors.Is(err, ErrStatusRegression) {
			t.Errorf("Mutate(%v) = %v, want ErrStatusRegression", s, err)
		}
	}

	// Re-asserting the current status is an idempotent no-op.
	advance(StatusRead)

	msg, _ := store.Get("c1", id)
	if msg.Status != StatusRead {
		t.Errorf("status regressed: got %v, want StatusRead", msg.Status)
	}

	t.Run("regression alongside other fields still applies them", func(t *testing.T) {
		stale := StatusSent
		err := store.Mutate("c1", id, Patch{
			Status:         &stale,
			ToggleReaction: &ReactionToggle{Emoji: "👍", Author: "self"},
		})
		if err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
		msg, _ := store.Get("c1", id)
		if msg.Status != StatusRead {
			t.Errorf("status = %v, want StatusRead", msg.Status)
		}
		if !msg.HasReaction("👍", "self") {
			t.Error("reaction from mixed patch not applied")
		}
	})
}

func TestReactionToggle(t *testing.T) {
	store := NewStore()
	id, _ := store.Append("c1", &Message{Kind: TextKind{}})

	toggle := func(emoji, author string) {
		if err := store.Mutate("c1", id, Patch{ToggleReaction: &ReactionToggle{Emoji: emoji, Author: author}}); err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
	}

	toggle("👍", "self")
	msg, _ := store.Get("c1", id)
	if !msg.HasReaction("👍", "self") {
		t.Fatal("reaction not recorded")
	}

	toggle("👍", "counterpart")
	msg, _ = store.Get("c1", id)
	if len(msg.Reactions["👍"]) != 2 {
		t.Errorf("expected 2 holders, got %d", len(msg.Reactions["👍"]))
	}

	// Toggling twice by the same author restores the pre-toggle state.
	toggle("👍", "self")
	msg, _ = store.Get("c1", id)
	if msg.HasReaction("👍", "self") {
		t.Error("second toggle did not remove reaction")
	}
	if !msg.HasReaction("👍", "counterpart") {
		t.Error("toggle removed another author's reaction")
	}

	toggle("👍", "counterpart")
	msg, _ = store.Get("c1", id)
	if len(msg.Reactions) != 0 {
		t.Errorf("empty reaction set not pruned: %v", msg.Reactions)
	}
}

func TestMutateMissingMessage(t *testing.T) {
	store := NewStore()
	status := StatusDelivered
	if err := store.Mutate("c1", "nope", Patch{Status: &status}); err != ErrMessageNotFound {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestThreadReplyCountIncrement(t *testing.T) {
	store := NewStore()
	id, _ := store.Append("c1", &Message{Kind: TextKind{}})

	store.Mutate("c1", id, Patch{IncrementThreadReplies: true})
	store.Mutate("c1", id, Patch{IncrementThreadReplies: true})

	msg, _ := store.Get("c1", id)
	if msg.ThreadReplyCount != 2 {
		t.Errorf("ThreadReplyCount = %d, want 2", msg.ThreadReplyCount)
	}
}

func TestQueryReturnsDeepCopy(t *testing.T) {
	store := NewStore()
	id, _ := store.Append("c1", &Message{Kind: TextKind{}})
	store.Mutate("c1", id, Patch{ToggleReaction: &ReactionToggle{Emoji: "❤️", Author: "self"}})

	got := store.Query("c1")
	got[0].Reactions["❤️"]["intruder"] = struct{}{}
	got[0].ThreadReplyCount = 99

	msg, _ := store.Get("c1", id)
	if msg.HasReaction("❤️", "intruder") {
		t.Error("mutating query result leaked into store")
	}
	if msg.ThreadReplyCount != 0 {
		t.Error("mutating query result changed stored counter")
	}
}

func TestConcurrentAppendAndQuery(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.Append("c1", &Message{Kind: TextKind{}})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, m := range store.Query("c1") {
					if m.Kind == nil {
						t.Error("observed half-updated message")
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if store.Len("c1") != 400 {
		t.Errorf("Len = %d, want 400", store.Len("c1"))
	}
}

func TestTail(t *testing.T) {
	store := NewStore()
	clock := newFakeClock()
	store.SetTimeProvider(clock)

	if _, ok := store.Tail("c1"); ok {
		t.Error("Tail on empty conversation should report none")
	}

	store.Append("c1", &Message{Kind: TextKind{}})
	clock.advance(time.Second)
	id2, _ := store.Append("c1", &Message{Kind: VoiceKind{AudioRef: "blob:x", DurationSeconds: 3}})

	tail, ok := store.Tail("c1")
	if !ok || tail.ID != id2 {
		t.Errorf("Tail = %v, want message %s", tail.ID, id2)
	}
}
