package delivery

import (
	"sync"
	"time"

	"github.com/opd-ai/msgcore/message"
)

// Default simulation windows. Delivered fires shortly after send and
// Read somewhat later, standing in for acknowledgements from the
// counterpart's client.
const (
	DefaultDeliveredAfter = 1500 * time.Millisecond
	DefaultReadAfter      = 4 * time.Second
)

// Sink consumes acknowledgement events. StateMachine satisfies it.
type Sink interface {
	Apply(ev Event)
}

// TimerSignal is the reference acknowledgement source: it emits a
// Delivered event and then a Read event on fixed timers after each send.
// Both events are idempotent against the state machine's monotonic
// contract, so stray timers after a real acknowledgement are harmless.
type TimerSignal struct {
	sink           Sink
	deliveredAfter time.Duration
	readAfter      time.Duration

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewTimerSignal creates a timer-driven signal feeding sink.
func NewTimerSignal(sink Sink, deliveredAfter, readAfter time.Duration) *TimerSignal {
	if deliveredAfter <= 0 {
		deliveredAfter = DefaultDeliveredAfter
	}
	if readAfter <= 0 {
		readAfter = DefaultReadAfter
	}
	return &TimerSignal{
		sink:           sink,
		deliveredAfter: deliveredAfter,
		readAfter:      readAfter,
		timers:         make(map[*time.Timer]struct{}),
	}
}

// MessageSent schedules the simulated Delivered and Read acknowledgements
// for a freshly appended outgoing message.
func (s *TimerSignal) MessageSent(conversationID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.schedule(s.deliveredAfter, Event{ConversationID: conversationID, MessageID: messageID, NewStatus: message.StatusDelivered})
	s.schedule(s.readAfter, Event{ConversationID: conversationID, MessageID: messageID, NewStatus: message.StatusRead})
}

// schedule arms one timer that removes itself from the pending set once
// it fires, so long-lived signals do not accumulate dead timers.
// Callers hold the mutex.
func (s *TimerSignal) schedule(d time.Duration, ev Event) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.sink.Apply(ev)
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
	})
	s.timers[t] = struct{}{}
}

// Stop cancels all pending timers. Events already in flight may still
// reach the sink; the monotonic contract makes them safe.
func (s *TimerSignal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}

func (s *TimerSignal) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
