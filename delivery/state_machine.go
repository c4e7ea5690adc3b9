package delivery

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/msgcore/message"
)

// Event is one acknowledgement: a message reached a new delivery status.
type Event struct {
	ConversationID string
	MessageID      string
	NewStatus      message.Status
}

// TransitionCallback is invoked exactly once per applied transition.
type TransitionCallback func(conversationID, messageID string, from, to message.Status)

// StateMachine applies acknowledgement events to the message store,
// enforcing forward-only status movement. Events for a message already
// at an equal or later status are no-ops.
type StateMachine struct {
	store *message.Store

	mu       sync.Mutex
	callback TransitionCallback
}

// NewStateMachine creates a state machine over the given store.
func NewStateMachine(store *message.Store) *StateMachine {
	return &StateMachine{store: store}
}

// OnTransition sets the callback fired after each applied transition.
func (m *StateMachine) OnTransition(callback TransitionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

// Apply processes one acknowledgement event. Events are serialized so a
// transition can never be observed twice and status can never move
// backward, regardless of the order timers or acks fire in.
func (m *StateMachine) Apply(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.store.Get(ev.ConversationID, ev.MessageID)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":        "Apply",
			"conversation_id": ev.ConversationID,
			"message_id":      ev.MessageID,
		}).Warn("Acknowledgement for unknown message dropped")
		return
	}

	if ev.NewStatus <= current.Status {
		// Late or duplicate acknowledgement.
		return
	}

	status := ev.NewStatus
	if err := m.store.Mutate(ev.ConversationID, ev.MessageID, message.Patch{Status: &status}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "Apply",
			"conversation_id": ev.ConversationID,
			"message_id":      ev.MessageID,
			"error":           err.Error(),
		}).Error("Failed to advance message status")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Apply",
		"conversation_id": ev.ConversationID,
		"message_id":      ev.MessageID,
		"from":            current.Status.String(),
		"to":              ev.NewStatus.String(),
	}).Debug("Message status advanced")

	if m.callback != nil {
		m.callback(ev.ConversationID, ev.MessageID, current.Status, ev.NewStatus)
	}
}
