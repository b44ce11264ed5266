// Package subscriber consumes the realtime feed from NATS and hands each
// message to the dispatcher. The upstream MQTT-to-NATS bridge maps HFP topic
// slashes to subject dots; the subscriber reverses that mapping so the
// pipeline sees original HFP topics.
package subscriber

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

type Handler interface {
	HandleMessage(ctx context.Context, topic string, body []byte)
}

// SubscriberMetrics tracks feed connection state. Implementations must be
// safe for concurrent use.
type SubscriberMetrics interface {
	NATSSetConnected(connected bool)
}

type Subscriber struct {
	nc      *nats.Conn
	subject string
	handler Handler
	logger  *slog.Logger
	sub     *nats.Subscription
}

func NewSubscriber(url, subject string, h Handler, logger *slog.Logger, m SubscriberMetrics) (*Subscriber, error) {
	logger = logger.With("component", "subscriber")
	nc, err := nats.Connect(url,
		nats.Name("hsl-congestion-recorder"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &Subscriber{nc: nc, subject: subject, handler: h, logger: logger}, nil
}

// Start subscribes and dispatches each message on its own goroutine. No
// concurrency limit is imposed: materialization is idempotent, so arbitrary
// interleaving of in-flight messages is safe.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		go s.handler.HandleMessage(ctx, TopicFromSubject(msg.Subject), msg.Data)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("subscribed", "subject", s.subject)
	return nil
}

func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Drain()
		s.nc.Close()
	}
}

// TopicFromSubject restores the bridge's subject back to an HFP topic:
// dots become slashes and the leading slash is reinstated.
func TopicFromSubject(subject string) string {
	return "/" + strings.ReplaceAll(subject, ".", "/")
}
