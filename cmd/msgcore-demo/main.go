// Command msgcore-demo runs two messaging cores against an in-process
// loopback transport and walks through a short exchange: typing, an
// encrypted text message, delivery acknowledgements, and a read receipt.
package main

import (
	"flag"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/msgcore"
	"github.com/opd-ai/msgcore/attachment"
	"github.com/opd-ai/msgcore/config"
	"github.com/opd-ai/msgcore/conversation"
	"github.com/opd-ai/msgcore/crypto"
	"github.com/opd-ai/msgcore/message"
	"github.com/opd-ai/msgcore/notify"
	"github.com/opd-ai/msgcore/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	metricsAddr := flag.String("metrics", "", "address to serve Prometheus metrics on (empty disables)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logrus.WithError(err).Error("Metrics server stopped")
			}
		}()
		logrus.WithField("addr", *metricsAddr).Info("Serving metrics")
	}

	keys, err := crypto.NewPebbleKeyStore(filepath.Join(cfg.DataDir, "keys"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open key store")
	}
	defer keys.Close()

	blobs, err := attachment.NewPebbleBlobStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open blob store")
	}
	defer blobs.Close()

	aliceEnd, bobEnd := transport.NewLoopbackPair()

	aliceOpts := msgcore.NewOptions()
	aliceOpts.KeyProvider = keys
	aliceOpts.KeyScope = cfg.KeyScope
	aliceOpts.BlobStore = blobs
	aliceOpts.Transport = aliceEnd
	aliceOpts.TypingWindow = cfg.TypingWindow
	aliceOpts.AttachmentLimits = attachment.Limits{MaxFileSize: cfg.MaxFileSize}

	bobOpts := msgcore.NewOptions()
	bobOpts.Transport = bobEnd
	bobOpts.TypingWindow = cfg.TypingWindow
	bobOpts.NotificationSink = notify.SinkFunc(func(title, body, icon string) error {
		logrus.WithFields(logrus.Fields{"title": title, "body": body}).Info("[bob] Notification")
		return nil
	})

	alice, err := msgcore.New(aliceOpts)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create sender core")
	}
	defer alice.Close()

	bob, err := msgcore.New(bobOpts)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create receiver core")
	}
	defer bob.Close()

	alice.OnStatusChange(func(conversationID, messageID string, from, to message.Status) {
		logrus.WithFields(logrus.Fields{
			"message_id": messageID,
			"from":       from.String(),
			"to":         to.String(),
		}).Info("[alice] Delivery status advanced")
	})
	bob.OnTypingChange(func(conversationID string, isTyping bool) {
		logrus.WithField("typing", isTyping).Info("[bob] Counterpart typing state")
	})

	id := conversation.NewID()
	seed := conversation.Conversation{
		ID:          id,
		Self:        conversation.Participant{ID: "alice", DisplayName: "Alice"},
		Counterpart: conversation.Participant{ID: "bob", DisplayName: "Bob", Type: "recruiter"},
	}
	if _, err := alice.OpenConversation(seed); err != nil {
		logrus.WithError(err).Fatal("Failed to open sender conversation")
	}
	if _, err := bob.OpenConversation(conversation.Conversation{
		ID:          id,
		Self:        conversation.Participant{ID: "bob", DisplayName: "Bob"},
		Counterpart: conversation.Participant{ID: "alice", DisplayName: "Alice", Type: "candidate"},
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to open receiver conversation")
	}

	// Alice types, pauses, and sends; Bob sees the indicator flip and the
	// message arrive, then opens the conversation to trigger the read
	// receipt.
	alice.NotifyTyping(id)
	time.Sleep(300 * time.Millisecond)

	sent, err := alice.SendText(id, "Hello! Thanks for reaching out about the role.")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to send message")
	}
	logrus.WithField("message_id", sent.ID).Info("[alice] Message sent")

	time.Sleep(300 * time.Millisecond)
	if err := bob.Focus(id); err != nil {
		logrus.WithError(err).Fatal("Failed to focus conversation")
	}

	time.Sleep(300 * time.Millisecond)

	for _, msg := range alice.Messages(id) {
		plain, err := alice.PlainText(msg)
		if err != nil {
			plain = msgcore.UnreadablePlaceholder
		}
		logrus.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"status":     msg.Status.String(),
			"body":       plain,
		}).Info("[alice] Final log entry")
	}
}
