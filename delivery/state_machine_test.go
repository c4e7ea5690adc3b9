package delivery

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/msgcore/message"
)

func appendTestMessage(t *testing.T, store *message.Store) string {
	t.Helper()
	id, err := store.Append("c1", &message.Message{Kind: message.TextKind{}})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	return id
}

func TestApplyAdvancesStatus(t *testing.T) {
	store := message.NewStore()
	machine := NewStateMachine(store)
	id := appendTestMessage(t, store)

	machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusDelivered})

	msg, _ := store.Get("c1", id)
	if msg.Status != message.StatusDelivered {
		t.Errorf("status = %v, want StatusDelivered", msg.Status)
	}

	machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusRead})

	msg, _ = store.Get("c1", id)
	if msg.Status != message.StatusRead {
		t.Errorf("status = %v, want StatusRead", msg.Status)
	}
}

func TestApplyIgnoresRegression(t *testing.T) {
	store := message.NewStore()
	machine := NewStateMachine(store)
	id := appendTestMessage(t, store)

	var transitions atomic.Int32
	machine.OnTransition(func(conversationID, messageID string, from, to message.Status) {
		transitions.Add(1)
	})

	machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusRead})
	// Late Delivered ack after Read: no-op, no callback.
	machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusDelivered})
	// Duplicate Read ack: no-op.
	machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusRead})

	msg, _ := store.Get("c1", id)
	if msg.Status != message.StatusRead {
		t.Errorf("status = %v, want StatusRead", msg.Status)
	}
	if got := transitions.Load(); got != 1 {
		t.Errorf("callback fired %d times, want 1", got)
	}
}

func TestTransitionCallbackOncePerTransition(t *testing.T) {
	store := message.NewStore()
	machine := NewStateMachine(store)
	id := appendTestMessage(t, store)

	var mu sync.Mutex
	var seen []message.Status
	machine.OnTransition(func(conversationID, messageID string, from, to message.Status) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusDelivered})
	machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusRead})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != message.StatusDelivered || seen[1] != message.StatusRead {
		t.Errorf("transitions = %v, want [delivered read]", seen)
	}
}

func TestApplyUnknownMessage(t *testing.T) {
	machine := NewStateMachine(message.NewStore())
	// Must not panic or create state.
	machine.Apply(Event{ConversationID: "c1", MessageID: "ghost", NewStatus: message.StatusDelivered})
}

func TestConcurrentAcksStayMonotonic(t *testing.T) {
	store := message.NewStore()
	machine := NewStateMachine(store)
	id := appendTestMessage(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusDelivered})
		}()
		go func() {
			defer wg.Done()
			machine.Apply(Event{ConversationID: "c1", MessageID: id, NewStatus: message.StatusRead})
		}()
	}
	wg.Wait()

	msg, _ := store.Get("c1", id)
	if msg.Status != message.StatusRead {
		t.Errorf("status = %v, want StatusRead", msg.Status)
	}
}

func TestTimerSignalLifecycle(t *testing.T) {
	store := message.NewStore()
	machine := NewStateMachine(store)
	id := appendTestMessage(t, store)

	signal := NewTimerSignal(machine, 20*time.Millisecond, 60*time.Millisecond)
	defer signal.Stop()

	signal.MessageSent("c1", id)

	msg, _ := store.Get("c1", id)
	if msg.Status != message.StatusSent {
		t.Fatalf("status before delivery window = %v, want StatusSent", msg.Status)
	}

	waitForStatus := func(want message.Status, timeout time.Duration) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			if m, _ := store.Get("c1", id); m.Status == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		m, _ := store.Get("c1", id)
		t.Fatalf("status = %v, want %v within %v", m.Status, want, timeout)
	}

	waitForStatus(message.StatusDelivered, 500*time.Millisecond)
	waitForStatus(message.StatusRead, 500*time.Millisecond)
}

func TestTimerSignalPrunesFiredTimers(t *testing.T) {
	store := message.NewStore()
	machine := NewStateMachine(store)

	signal := NewTimerSignal(machine, 10*time.Millisecond, 20*time.Millisecond)
	defer signal.Stop()

	for i := 0; i < 5; i++ {
		signal.MessageSent("c1", appendTestMessage(t, store))
	}
	if got := signal.pending(); got != 10 {
		t.Fatalf("pending timers = %d, want 10", got)
	}

	// Fired timers must drop out of the pending set, not pile up until
	// Stop.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && signal.pending() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := signal.pending(); got != 0 {
		t.Errorf("pending timers after firing = %d, want 0", got)
	}
}

func TestTimerSignalStopCancelsPending(t *testing.T) {
	store := message.NewStore()
	machine := NewStateMachine(store)
	id := appendTestMessage(t, store)

	signal := NewTimerSignal(machine, 50*time.Millisecond, 100*time.Millisecond)
	signal.MessageSent("c1", id)
	signal.Stop()

	time.Sleep(200 * time.Millisecond)

	msg, _ := store.Get("c1", id)
	if msg.Status != message.StatusSent {
		t.Errorf("status after Stop = %v, want StatusSent", msg.Status)
	}

	// Sends after Stop are ignored.
	signal.MessageSent("c1", id)
	time.Sleep(150 * time.Millisecond)
	msg, _ = store.Get("c1", id)
	if msg.Status != message.StatusSent {
		t.Errorf("status after post-Stop send = %v, want StatusSent", msg.Status)
	}
}
