package domain

import (
	"context"
)

// Topics published by Walletwatch. Batch requests are consumed by the worker;
// the rest are outbound notifications for downstream systems.
const (
	TopicBatchRequested = "walletwatch.batch.requested"
	TopicBatchCompleted = "walletwatch.batch.completed"
	TopicDecision       = "walletwatch.decision"
	TopicAlert          = "walletwatch.alert"
)

// EventBus carries batch jobs and decision events between nodes. The channel
// implementation is in-process; NATS spreads batch jobs over a queue group.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe runs handler for each message on topic until the returned
	// subscription is cancelled or ctx is done.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one message. A returned error is logged; the
// message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around every published payload.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"` // unix nanos at publish
}

// Subscription is an active handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus implementation.
type EventBusConfig struct {
	Type string // "channel" or "nats"

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
	NATSQueueGroup    string
}
