// Package msgcore implements the encrypted real-time messaging core of
// a 1:1 chat surface: per-conversation ordered logs, a monotonic
// delivery state machine, symmetric end-to-end encryption of message
// bodies, attachment and voice capture, reaction aggregation, threaded
// replies, and debounced typing presence.
//
// The hosting application supplies identity, conversation seeds, key
// storage, and a notification sink; an optional Transport carries
// messages, typing edges, and delivery acknowledgements to the
// counterpart's client.
//
// Example:
//
//	m, err := msgcore.New(msgcore.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	m.OpenConversation(conversation.Conversation{ID: "c1", ...})
//	msg, _ := m.SendText("c1", "Hello")
package msgcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/msgcore/attachment"
	"github.com/opd-ai/msgcore/conversation"
	"github.com/opd-ai/msgcore/crypto"
	"github.com/opd-ai/msgcore/delivery"
	"github.com/opd-ai/msgcore/message"
	"github.com/opd-ai/msgcore/notify"
	"github.com/opd-ai/msgcore/presence"
	"github.com/opd-ai/msgcore/telemetry"
	"github.com/opd-ai/msgcore/thread"
	"github.com/opd-ai/msgcore/transport"
)

// UnreadablePlaceholder is rendered in place of a message whose
// ciphertext cannot be opened. Such messages are never retried.
const UnreadablePlaceholder = "[unreadable message]"

// ErrEmptyMessage indicates a send with no content.
var ErrEmptyMessage = errors.New("message is empty")

// MessageCallback is invoked for every message appended to a log.
type MessageCallback func(conversationID string, msg message.Message)

// StatusCallback is invoked once per applied delivery transition.
type StatusCallback func(conversationID, messageID string, from, to message.Status)

// TypingCallback is invoked on counterpart typing-state edges.
type TypingCallback func(conversationID string, isTyping bool)

// Options configures a Messenger. NewOptions returns working defaults
// backed by in-memory stores; hosts swap in durable implementations.
type Options struct {
	// KeyProvider stores the symmetric payload keys.
	KeyProvider crypto.KeyProvider
	// KeyScope names the key used for payloads (device-global default).
	KeyScope string
	// BlobStore holds attachment bytes.
	BlobStore attachment.BlobStore
	// CaptureDevice is the microphone resource; nil disables voice capture.
	CaptureDevice attachment.CaptureDevice
	// NotificationSink receives environment alerts; nil disables them.
	NotificationSink notify.Sink
	// Transport carries traffic to the counterpart; nil leaves the core
	// local, with delivery simulated by timers.
	Transport transport.Transport
	// AttachmentLimits bounds file captures.
	AttachmentLimits attachment.Limits
	// TypingWindow is the presence debounce window.
	TypingWindow time.Duration
	// DeliveredAfter and ReadAfter drive the simulated delivery signal.
	DeliveredAfter time.Duration
	ReadAfter      time.Duration
}

// NewOptions creates options with in-memory defaults.
func NewOptions() *Options {
	return &Options{
		KeyProvider: crypto.NewMemoryKeyProvider(),
		KeyScope:    "device",
		BlobStore:   attachment.NewMemoryBlobStore(),
	}
}

// Messenger wires the core's components together behind one surface.
type Messenger struct {
	box        *crypto.Box
	store      *message.Store
	machine    *delivery.StateMachine
	signal     *delivery.TimerSignal
	selfTyping *presence.Signal
	peerTyping *presence.Signal
	index      *conversation.Index
	threads    *thread.Registry
	pipeline   *attachment.Pipeline
	recorder   *attachment.Recorder
	dispatcher *notify.Dispatcher
	transport  transport.Transport

	onMessage MessageCallback
	onStatus  StatusCallback
	onTyping  TypingCallback
}

// New creates a Messenger from options.
func New(opts *Options) (*Messenger, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.KeyProvider == nil {
		return nil, fmt.Errorf("options require a KeyProvider")
	}
	if opts.BlobStore == nil {
		return nil, fmt.Errorf("options require a BlobStore")
	}

	scope := opts.KeyScope
	if scope == "" {
		scope = "device"
	}

	store := message.NewStore()
	machine := delivery.NewStateMachine(store)

	m := &Messenger{
		box:        crypto.NewBox(opts.KeyProvider, scope),
		store:      store,
		machine:    machine,
		signal:     delivery.NewTimerSignal(machine, opts.DeliveredAfter, opts.ReadAfter),
		selfTyping: presence.NewSignal(opts.TypingWindow),
		peerTyping: presence.NewSignal(opts.TypingWindow),
		index:      conversation.NewIndex(),
		threads:    thread.NewRegistry(store),
		pipeline:   attachment.NewPipeline(opts.BlobStore, opts.AttachmentLimits),
		dispatcher: notify.NewDispatcher(opts.NotificationSink),
		transport:  opts.Transport,
	}
	if opts.CaptureDevice != nil {
		m.recorder = attachment.NewRecorder(opts.CaptureDevice, opts.BlobStore)
	}

	machine.OnTransition(func(conversationID, messageID string, from, to message.Status) {
		telemetry.DeliveryTransitions.WithLabelValues(to.String()).Inc()
		if m.onStatus != nil {
			m.onStatus(conversationID, messageID, from, to)
		}
	})

	// Local compose edges go out over the transport; counterpart edges
	// drive the host's typing indicator. Two signals keep the directions
	// from echoing into each other.
	m.selfTyping.OnEdge(func(conversationID string, isTyping bool) {
		state := "stopped"
		if isTyping {
			state = "started"
		}
		telemetry.TypingEdges.WithLabelValues(state).Inc()
		if m.transport != nil {
			if err := m.transport.SendTypingEdge(conversationID, isTyping); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":        "OnEdge",
					"conversation_id": conversationID,
					"error":           err.Error(),
				}).Debug("Failed to send typing edge")
			}
		}
	})

	m.peerTyping.OnEdge(func(conversationID string, isTyping bool) {
		if m.onTyping != nil {
			m.onTyping(conversationID, isTyping)
		}
	})

	if m.transport != nil {
		m.transport.OnIncoming(m.receiveMessage)
		m.transport.OnTypingEdge(m.receiveTypingEdge)
		m.transport.OnDeliveryAck(func(conversationID, messageID string, newStatus message.Status) {
			machine.Apply(delivery.Event{ConversationID: conversationID, MessageID: messageID, NewStatus: newStatus})
		})
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"key_scope": scope,
		"transport": m.transport != nil,
	}).Info("Messenger created")

	return m, nil
}

// Close stops timers and flushes in-flight notifications. The transport,
// key provider, and blob store are owned by the host and not closed here.
func (m *Messenger) Close() {
	m.signal.Stop()
	m.selfTyping.Stop()
	m.peerTyping.Stop()
	m.dispatcher.Flush()
}

// OnMessage sets the callback for every appended message.
func (m *Messenger) OnMessage(callback MessageCallback) { m.onMessage = callback }

// OnStatusChange sets the callback for delivery transitions.
func (m *Messenger) OnStatusChange(callback StatusCallback) { m.onStatus = callback }

// OnTypingChange sets the callback for counterpart typing edges.
func (m *Messenger) OnTypingChange(callback TypingCallback) { m.onTyping = callback }

// OpenConversation registers a conversation seeded by the host. A seed
// without an ID is assigned a fresh one; the registered conversation is
// returned either way.
func (m *Messenger) OpenConversation(seed conversation.Conversation) (conversation.Conversation, error) {
	if seed.ID == "" {
		seed.ID = conversation.NewID()
	}
	if seed.KeyScope == "" {
		seed.KeyScope = "device"
	}
	if err := m.index.Add(seed); err != nil {
		return conversation.Conversation{}, err
	}
	return seed, nil
}

// Conversations lists conversations matching the filter, most recently
// active first.
func (m *Messenger) Conversations(f conversation.Filter) []conversation.Conversation {
	return m.index.List(f)
}

// Focus marks the conversation as on-screen, clears its unread count,
// and acknowledges its unread counterpart messages as read.
func (m *Messenger) Focus(conversationID string) error {
	if err := m.index.Focus(conversationID); err != nil {
		return err
	}

	if m.transport != nil {
		for _, msg := range m.store.Query(conversationID) {
			if msg.Author == message.AuthorCounterpart && msg.Status < message.StatusRead {
				m.ackIncoming(conversationID, msg.ID, message.StatusRead)
			}
		}
	}
	return nil
}

// Blur clears the focused conversation.
func (m *Messenger) Blur() {
	m.index.Blur()
}

// Messages returns the conversation's ordered log.
func (m *Messenger) Messages(conversationID string) []message.Message {
	return m.store.Query(conversationID)
}

// Replies returns the replies registered against a thread root.
func (m *Messenger) Replies(conversationID, messageID string) []message.Message {
	return m.threads.RepliesOf(conversationID, messageID)
}

// SendText encrypts plaintext and appends it as a self-authored message.
func (m *Messenger) SendText(conversationID, plaintext string) (message.Message, error) {
	return m.sendTextInternal(conversationID, plaintext, "")
}

// Reply sends a text message threading onto an earlier message in the
// same conversation. An invalid reference is rejected before anything
// is appended.
func (m *Messenger) Reply(conversationID, replyToID, plaintext string) (message.Message, error) {
	if err := m.threads.Validate(conversationID, replyToID, time.Time{}); err != nil {
		return message.Message{}, err
	}
	return m.sendTextInternal(conversationID, plaintext, replyToID)
}

func (m *Messenger) sendTextInternal(conversationID, plaintext, replyToID string) (message.Message, error) {
	if plaintext == "" {
		return message.Message{}, ErrEmptyMessage
	}

	ciphertext, err := m.box.Encrypt(plaintext)
	if err != nil {
		return message.Message{}, fmt.Errorf("failed to encrypt message: %w", err)
	}

	return m.appendOutgoing(conversationID, &message.Message{
		Author:    message.AuthorSelf,
		Kind:      message.TextKind{Ciphertext: ciphertext},
		ReplyToID: replyToID,
	})
}

// AttachFile validates and stores a file selection, appending it as an
// image or document message depending on its MIME type.
func (m *Messenger) AttachFile(conversationID, fileName, mimeType string, data []byte) (message.Message, error) {
	ref, err := m.pipeline.CaptureFile(fileName, mimeType, data)
	if err != nil {
		return message.Message{}, err
	}

	var kind message.Kind
	if ref.IsImage() {
		kind = message.ImageKind{FileRef: ref.Ref, FileName: ref.FileName}
	} else {
		kind = message.DocumentKind{FileRef: ref.Ref, FileName: ref.FileName, SizeBytes: ref.SizeBytes}
	}

	return m.appendOutgoing(conversationID, &message.Message{
		Author: message.AuthorSelf,
		Kind:   kind,
	})
}

// StartRecording begins voice capture for the conversation. A second
// start while recording is a no-op.
func (m *Messenger) StartRecording(conversationID string) error {
	if m.recorder == nil {
		return attachment.ErrDeviceUnavailable
	}
	return m.recorder.Start(conversationID, 48000)
}

// FeedAudio appends captured PCM samples to the active session.
func (m *Messenger) FeedAudio(frame []int16) {
	if m.recorder != nil {
		m.recorder.Feed(frame)
	}
}

// StopRecording finalizes the session and sends the voice message.
func (m *Messenger) StopRecording(conversationID string) (message.Message, error) {
	if m.recorder == nil {
		return message.Message{}, attachment.ErrDeviceUnavailable
	}

	voice, err := m.recorder.Stop()
	if err != nil {
		return message.Message{}, err
	}

	return m.appendOutgoing(conversationID, &message.Message{
		Author: message.AuthorSelf,
		Kind:   message.VoiceKind{AudioRef: voice.Ref, DurationSeconds: voice.DurationSeconds},
	})
}

// CancelRecording abandons the active session without producing an asset.
func (m *Messenger) CancelRecording() error {
	if m.recorder == nil {
		return attachment.ErrDeviceUnavailable
	}
	return m.recorder.Cancel()
}

// React toggles the local participant's emoji reaction on a message.
func (m *Messenger) React(conversationID, messageID, emoji string) error {
	return m.store.Mutate(conversationID, messageID, message.Patch{
		ToggleReaction: &message.ReactionToggle{Emoji: emoji, Author: message.AuthorSelf.String()},
	})
}

// NotifyTyping records local compose-field activity for the conversation.
// Call it on every keystroke; the debounce collapses bursts into edges.
func (m *Messenger) NotifyTyping(conversationID string) {
	m.selfTyping.NotifyActivity(conversationID)
}

// IsTyping reports whether the local participant is in the typing state.
func (m *Messenger) IsTyping(conversationID string) bool {
	return m.selfTyping.IsTyping(conversationID)
}

// CounterpartTyping reports whether the counterpart's typing indicator
// should be shown for the conversation.
func (m *Messenger) CounterpartTyping(conversationID string) bool {
	return m.peerTyping.IsTyping(conversationID)
}

// PlainText decrypts a text message's body for rendering. Legacy
// plaintext passes through unchanged; an unreadable ciphertext yields
// the placeholder and crypto.ErrCryptoUnavailable.
func (m *Messenger) PlainText(msg message.Message) (string, error) {
	text, ok := msg.Kind.(message.TextKind)
	if !ok {
		return "", fmt.Errorf("message %s is not a text message", msg.ID)
	}

	plain, err := m.box.Decrypt(text.Ciphertext)
	if err != nil {
		return UnreadablePlaceholder, err
	}
	return plain, nil
}

// Attachment resolves an attachment reference to its bytes.
func (m *Messenger) Attachment(ref string) ([]byte, error) {
	return m.pipeline.Resolve(ref)
}

// appendOutgoing appends a self-authored message, clears typing state,
// schedules delivery acknowledgements, and pushes the message onto the
// transport when one is attached.
func (m *Messenger) appendOutgoing(conversationID string, msg *message.Message) (message.Message, error) {
	id, err := m.store.Append(conversationID, msg)
	if err != nil {
		return message.Message{}, err
	}

	telemetry.MessagesAppended.WithLabelValues(message.AuthorSelf.String()).Inc()

	appended, _ := m.store.Get(conversationID, id)

	// Sending empties the compose field; the typing indicator must not
	// linger for the rest of the debounce window.
	m.selfTyping.MessageSent(conversationID)

	if _, err := m.index.RecordActivity(conversationID, appended.Kind.Summary(), appended.CreatedAt, false); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "appendOutgoing",
			"conversation_id": conversationID,
			"error":           err.Error(),
		}).Warn("Failed to record conversation activity")
	}

	if m.transport != nil {
		wire := transport.WireMessage{
			ConversationID: conversationID,
			MessageID:      id,
			CreatedAt:      appended.CreatedAt,
			ReplyToID:      appended.ReplyToID,
			Payload:        transport.EncodePayload(appended.Kind),
		}
		if err := m.transport.SendMessage(conversationID, wire); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "appendOutgoing",
				"conversation_id": conversationID,
				"message_id":      id,
				"error":           err.Error(),
			}).Warn("Failed to push message to transport")
		}
	} else {
		// No transport: delivery acknowledgements are simulated.
		m.signal.MessageSent(conversationID, id)
	}

	if appended.ReplyToID != "" {
		if err := m.threads.Register(conversationID, appended.ReplyToID, id); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "appendOutgoing",
				"conversation_id": conversationID,
				"message_id":      id,
				"root_id":         appended.ReplyToID,
				"error":           err.Error(),
			}).Warn("Failed to register thread reply")
		}
	}

	if m.onMessage != nil {
		m.onMessage(conversationID, appended)
	}

	return appended, nil
}

// receiveMessage handles a counterpart message arriving from the
// transport: append, thread registration, unread accounting,
// notification, and the delivery acknowledgement back to the sender.
func (m *Messenger) receiveMessage(wire transport.WireMessage) {
	kind, err := transport.DecodePayload(wire.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "receiveMessage",
			"conversation_id": wire.ConversationID,
			"message_id":      wire.MessageID,
			"error":           err.Error(),
		}).Warn("Dropping message with unknown payload type")
		return
	}

	// Voice payloads may carry their Opus frames; decode them to check
	// the declared duration rather than trusting it blindly.
	if voice, ok := kind.(message.VoiceKind); ok && len(wire.Payload.OpusFrames) > 0 {
		voice.DurationSeconds = attachment.VerifyVoiceDuration(wire.Payload.OpusFrames, voice.DurationSeconds)
		kind = voice
	}

	msg := &message.Message{
		ID:        wire.MessageID,
		Author:    message.AuthorCounterpart,
		Kind:      kind,
		CreatedAt: wire.CreatedAt,
		ReplyToID: wire.ReplyToID,
		// Our copy reflects what the counterpart knows: it sent the
		// message, so it is at least Sent.
		Status: message.StatusSent,
	}

	id, err := m.store.Append(wire.ConversationID, msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "receiveMessage",
			"conversation_id": wire.ConversationID,
			"message_id":      wire.MessageID,
			"error":           err.Error(),
		}).Warn("Failed to append incoming message")
		return
	}

	telemetry.MessagesAppended.WithLabelValues(message.AuthorCounterpart.String()).Inc()

	appended, _ := m.store.Get(wire.ConversationID, id)

	// A message landing clears the counterpart's typing indicator.
	m.peerTyping.ApplyRemoteEdge(wire.ConversationID, false)

	if appended.ReplyToID != "" {
		if err := m.threads.Register(wire.ConversationID, appended.ReplyToID, id); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "receiveMessage",
				"conversation_id": wire.ConversationID,
				"root_id":         appended.ReplyToID,
				"error":           err.Error(),
			}).Warn("Incoming reply references invalid root")
		}
	}

	unfocused, err := m.index.RecordActivity(wire.ConversationID, appended.Kind.Summary(), appended.CreatedAt, true)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "receiveMessage",
			"conversation_id": wire.ConversationID,
			"error":           err.Error(),
		}).Warn("Incoming message for unregistered conversation")
	}

	if unfocused {
		title := "New message"
		if conv, ok := m.index.Get(wire.ConversationID); ok {
			title = conv.Counterpart.DisplayName
		}
		telemetry.NotificationsEmitted.Inc()
		m.dispatcher.Notify(notify.Notification{
			ConversationID: wire.ConversationID,
			Title:          title,
			Body:           appended.Kind.Summary(),
		})
		m.ackIncoming(wire.ConversationID, id, message.StatusDelivered)
	} else {
		// Focused conversation: the user sees the message immediately.
		m.ackIncoming(wire.ConversationID, id, message.StatusRead)
	}

	if m.onMessage != nil {
		m.onMessage(wire.ConversationID, appended)
	}
}

// ackIncoming advances our local copy and acknowledges to the sender.
func (m *Messenger) ackIncoming(conversationID, messageID string, status message.Status) {
	m.machine.Apply(delivery.Event{ConversationID: conversationID, MessageID: messageID, NewStatus: status})

	if m.transport != nil {
		if err := m.transport.SendDeliveryAck(conversationID, messageID, status); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "ackIncoming",
				"conversation_id": conversationID,
				"message_id":      messageID,
				"error":           err.Error(),
			}).Debug("Failed to send delivery ack")
		}
	}
}

// receiveTypingEdge applies a counterpart typing edge with the local
// debounce; the host callback fires through the peer signal's edge hook.
func (m *Messenger) receiveTypingEdge(conversationID string, isTyping bool) {
	m.peerTyping.ApplyRemoteEdge(conversationID, isTyping)
}
