// Package notify surfaces new-message events to the host environment.
//
// Delivery is best-effort: a missing or failing sink is swallowed, and
// dispatch never blocks the message append that triggered it.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink is the environment-supplied alert surface (desktop or OS-level).
type Sink interface {
	Emit(title, body, icon string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(title, body, icon string) error

// Emit calls the function.
func (f SinkFunc) Emit(title, body, icon string) error { return f(title, body, icon) }

// Notification is one alert handed to the sink.
type Notification struct {
	ConversationID string
	Title          string
	Body           string
	Icon           string
}

// Dispatcher fans notifications out to the sink asynchronously.
type Dispatcher struct {
	mu   sync.Mutex
	sink Sink
	wg   sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil sink disables delivery
// without disabling the dispatcher.
func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink}
}

// SetSink replaces the sink.
func (d *Dispatcher) SetSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Notify delivers one notification asynchronously. Errors and panics
// from the sink are logged and swallowed; the caller is never blocked
// or failed by the environment.
func (d *Dispatcher) Notify(n Notification) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()

	if sink == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"function":        "Notify",
					"conversation_id": n.ConversationID,
					"panic":           r,
				}).Warn("Notification sink panicked")
			}
		}()

		if err := sink.Emit(n.Title, n.Body, n.Icon); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "Notify",
				"conversation_id": n.ConversationID,
				"error":           err.Error(),
			}).Debug("Notification sink failed")
		}
	}()
}

// Flush waits for in-flight notifications. Intended for tests and
// shutdown paths.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}
