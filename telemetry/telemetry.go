// Package telemetry exposes Prometheus counters for the messaging core.
// Exposition (HTTP handler, pushgateway) is left to the host.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesAppended counts messages entering the log, by author.
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msgcore",
		Name:      "messages_appended_total",
		Help:      "Messages appended to conversation logs.",
	}, []string{"author"})

	// DeliveryTransitions counts applied status transitions.
	DeliveryTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msgcore",
		Name:      "delivery_transitions_total",
		Help:      "Message delivery status transitions.",
	}, []string{"to"})

	// NotificationsEmitted counts notifications handed to the sink.
	NotificationsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "msgcore",
		Name:      "notifications_emitted_total",
		Help:      "Notifications dispatched to the environment sink.",
	})

	// TypingEdges counts typing-state edges, by direction.
	TypingEdges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msgcore",
		Name:      "typing_edges_total",
		Help:      "Typing indicator state edges.",
	}, []string{"state"})
)
