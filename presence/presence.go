// Package presence implements the debounced typing-indicator protocol.
//
// Every keystroke in a compose field calls NotifyActivity; the signal
// keeps at most one live debounce timer per conversation and flips
// IsTyping back to false only after a quiet window with no further
// activity. Only state edges (false→true and true→false) are reported
// to the optional callback, never individual keystrokes, so a networked
// implementation can forward edges directly to the counterpart.
package presence

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWindow is the debounce window applied when none is configured.
const DefaultWindow = 1000 * time.Millisecond

// EdgeCallback receives typing-state edges.
type EdgeCallback func(conversationID string, isTyping bool)

type conversationState struct {
	typing bool
	timer  *time.Timer
	// gen resolves the race between a firing timer and fresh activity:
	// a stale callback observes a newer generation and yields, so
	// activity always wins.
	gen uint64
}

// Signal tracks typing state per conversation with one debounce timer each.
type Signal struct {
	window time.Duration

	mu     sync.Mutex
	states map[string]*conversationState
	edge   EdgeCallback
	closed bool
}

// NewSignal creates a Signal with the given debounce window.
// A non-positive window selects DefaultWindow.
func NewSignal(window time.Duration) *Signal {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Signal{
		window: window,
		states: make(map[string]*conversationState),
	}
}

// OnEdge sets the callback invoked on every typing-state edge.
func (s *Signal) OnEdge(callback EdgeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edge = callback
}

// NotifyActivity records compose activity for the conversation. The
// debounce timer is reset, never stacked: N calls within the window
// produce exactly one false edge, one window after the last call.
func (s *Signal) NotifyActivity(conversationID string) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return
	}

	st := s.states[conversationID]
	if st == nil {
		st = &conversationState{}
		s.states[conversationID] = st
	}

	st.gen++
	gen := st.gen

	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(s.window, func() {
		s.expire(conversationID, gen)
	})

	rising := !st.typing
	st.typing = true

	callback := s.edge
	s.mu.Unlock()

	if rising {
		logrus.WithFields(logrus.Fields{
			"function":        "NotifyActivity",
			"conversation_id": conversationID,
		}).Debug("Typing started")
		if callback != nil {
			callback(conversationID, true)
		}
	}
}

// IsTyping reports whether the conversation is currently in the typing state.
func (s *Signal) IsTyping(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.states[conversationID]
	return st != nil && st.typing
}

// MessageSent clears typing state immediately: sending empties the
// compose field, so the indicator must not linger for the remainder of
// the debounce window.
func (s *Signal) MessageSent(conversationID string) {
	s.mu.Lock()

	st := s.states[conversationID]
	if st == nil || !st.typing {
		s.mu.Unlock()
		return
	}

	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.typing = false

	callback := s.edge
	s.mu.Unlock()

	if callback != nil {
		callback(conversationID, false)
	}
}

// ApplyRemoteEdge applies a typing edge received from the counterpart,
// with the same debounce guard on the true state: a remote true edge
// that is never followed by a false edge still expires locally.
func (s *Signal) ApplyRemoteEdge(conversationID string, isTyping bool) {
	if isTyping {
		s.NotifyActivity(conversationID)
		return
	}
	s.MessageSent(conversationID)
}

// Stop cancels all pending timers. Subsequent activity is ignored.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, st := range s.states {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.typing = false
	}
}

func (s *Signal) expire(conversationID string, gen uint64) {
	s.mu.Lock()

	st := s.states[conversationID]
	if st == nil || st.gen != gen || !st.typing {
		// Fresh activity re-armed the timer after this callback was
		// scheduled; last write wins.
		s.mu.Unlock()
		return
	}

	st.typing = false
	st.timer = nil

	callback := s.edge
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "expire",
		"conversation_id": conversationID,
	}).Debug("Typing stopped")

	if callback != nil {
		callback(conversationID, false)
	}
}
