package conversation

import (
	"testing"
	"time"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seeds := []Conversation{
		{
			ID:                 "c1",
			Self:               Participant{ID: "u1", DisplayName: "Me", Type: "candidate"},
			Counterpart:        Participant{ID: "u2", DisplayName: "TechCorp Inc.", Type: "company"},
			LastMessageSummary: "Looking forward to the interview",
			LastActivity:       base.Add(2 * time.Hour),
		},
		{
			ID:                 "c2",
			Self:               Participant{ID: "u1", DisplayName: "Me", Type: "candidate"},
			Counterpart:        Participant{ID: "u3", DisplayName: "Design Studio", Type: "company"},
			LastMessageSummary: "Portfolio received",
			LastActivity:       base.Add(1 * time.Hour),
		},
		{
			ID:          "c3",
			Self:        Participant{ID: "u1", DisplayName: "Me", Type: "candidate"},
			Counterpart: Participant{ID: "u4", DisplayName: "Jane Recruiter", Type: "recruiter"},
			// Summary mentions tech to exercise last-message matching.
			LastMessageSummary: "New tech roles this week",
			LastActivity:       base.Add(3 * time.Hour),
		},
	}
	for _, c := range seeds {
		if err := ix.Add(c); err != nil {
			t.Fatalf("Add(%s) failed: %v", c.ID, err)
		}
	}
	return ix
}

func TestAddDuplicate(t *testing.T) {
	ix := NewIndex()
	if err := ix.Add(Conversation{ID: "c1"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := ix.Add(Conversation{ID: "c1"}); err != ErrConversationExists {
		t.Errorf("expected ErrConversationExists, got %v", err)
	}
}

func TestListEmptyFilterOrdersByActivity(t *testing.T) {
	ix := seedIndex(t)

	got := ix.List(Filter{})
	if len(got) != 3 {
		t.Fatalf("List returned %d conversations, want 3", len(got))
	}
	want := []string{"c3", "c1", "c2"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestTextSearch(t *testing.T) {
	ix := seedIndex(t)

	t.Run("matches display name case-insensitively", func(t *testing.T) {
		got := ix.List(Filter{Text: "tech"})
		ids := map[string]bool{}
		for _, c := range got {
			ids[c.ID] = true
		}
		// "Tech" hits TechCorp Inc. by name and c3 by last-message summary.
		if !ids["c1"] || !ids["c3"] || ids["c2"] {
			t.Errorf("Text filter matched %v, want c1 and c3 only", ids)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if got := ix.List(Filter{Text: "blockchain"}); len(got) != 0 {
			t.Errorf("expected no matches, got %d", len(got))
		}
	})
}

func TestFilterConjunction(t *testing.T) {
	ix := seedIndex(t)

	// Text matches c1 and c3, type narrows to the company.
	got := ix.List(Filter{Text: "tech", CounterpartType: "company"})
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("conjunction filter = %v, want [c1]", got)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got = ix.List(Filter{ActiveSince: base.Add(90 * time.Minute)})
	ids := map[string]bool{}
	for _, c := range got {
		ids[c.ID] = true
	}
	if !ids["c1"] || !ids["c3"] || ids["c2"] {
		t.Errorf("date filter matched %v, want c1 and c3", ids)
	}
}

func TestUnreadLifecycle(t *testing.T) {
	ix := seedIndex(t)
	at := time.Now()

	notify, err := ix.RecordActivity("c1", "Hello", at, true)
	if err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}
	if !notify {
		t.Error("counterpart message on unfocused conversation should be notifiable")
	}

	c, _ := ix.Get("c1")
	if c.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", c.UnreadCount)
	}
	if c.LastMessageSummary != "Hello" {
		t.Errorf("LastMessageSummary = %q, want Hello", c.LastMessageSummary)
	}

	// Self-authored messages never count as unread.
	if notify, _ = ix.RecordActivity("c1", "reply", at.Add(time.Second), false); notify {
		t.Error("self message must not be notifiable")
	}
	c, _ = ix.Get("c1")
	if c.UnreadCount != 1 {
		t.Errorf("UnreadCount after self message = %d, want 1", c.UnreadCount)
	}

	// Focus clears unread; focused arrivals do not accumulate.
	if err := ix.Focus("c1"); err != nil {
		t.Fatalf("Focus failed: %v", err)
	}
	c, _ = ix.Get("c1")
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount after focus = %d, want 0", c.UnreadCount)
	}

	if notify, _ = ix.RecordActivity("c1", "more", at.Add(2*time.Second), true); notify {
		t.Error("focused arrival must not be notifiable")
	}
	c, _ = ix.Get("c1")
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount on focused conversation = %d, want 0", c.UnreadCount)
	}

	// Blur restores unread accounting.
	ix.Blur()
	ix.RecordActivity("c1", "after blur", at.Add(3*time.Second), true)
	ix.RecordActivity("c2", "elsewhere", at.Add(3*time.Second), true)
	if total := ix.TotalUnread(); total != 2 {
		t.Errorf("TotalUnread = %d, want 2", total)
	}
}

func TestFocusUnknownConversation(t *testing.T) {
	ix := NewIndex()
	if err := ix.Focus("ghost"); err != ErrConversationNotFound {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
	if _, err := ix.RecordActivity("ghost", "x", time.Now(), true); err != ErrConversationNotFound {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}
