package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/resilience"
)

var tracer = otel.Tracer("walletwatch-bus")

// NATSBus implements EventBus on NATS core subjects. Topics map to subjects
// one to one; subscribers join the configured queue group so each batch job
// is handled by exactly one node.
type NATSBus struct {
	conn       *nats.Conn
	queueGroup string

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl, retrying the initial connect with
// backoff. After that the client reconnects on its own.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("walletwatch"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	retry := resilience.Config{MaxRetries: cfg.NATSMaxReconnects, InitialBackoff: wait}
	err := resilience.RetryWithBackoff(context.Background(), retry, func() error {
		var err error
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err != nil {
			slog.Warn("NATS connection attempt failed", "url", cfg.NATSUrl, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSUrl, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:       conn,
		queueGroup: cfg.NATSQueueGroup,
		subs:       make(map[string]*natsSubscription),
	}, nil
}

// Publish sends the message envelope with the trace context in NATS headers.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := json.Marshal(newMessage(ctx, topic, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := nats.NewMsg(topic)
	msg.Data = data
	injectTrace(ctx, msg.Header)

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the queue group on topic. Each delivery runs the handler
// in a consumer span parented on the publisher's trace.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	natsSub, err := b.conn.QueueSubscribe(topic, b.queueGroup, func(m *nats.Msg) {
		if ctx.Err() != nil {
			return
		}

		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message", "subject", m.Subject, "error", err)
			return
		}

		hctx, span := tracer.Start(extractTrace(ctx, m.Header), "consume "+m.Subject,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination", m.Subject),
				attribute.String("messaging.message_id", msg.ID),
			),
		)
		defer span.End()

		if err := handler(hctx, &msg); err != nil {
			span.RecordError(err)
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{
		id:    uuid.New().String(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions, letting in-flight handlers finish, then closes
// the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}

// injectTrace writes the W3C trace context of ctx into h.
func injectTrace(ctx context.Context, h nats.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(h)))
}

// extractTrace returns ctx carrying the remote span context found in h.
func extractTrace(ctx context.Context, h nats.Header) context.Context {
	if h == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(h)))
}
