// Package bus provides event bus implementations for Walletwatch.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// ErrBusClosed is returned by every operation on a closed ChannelBus.
var ErrBusClosed = errors.New("event bus is closed")

// ChannelBus is the single-node EventBus. Each subscription owns a buffered
// channel drained by one goroutine, so a topic's handlers see messages in
// publish order.
type ChannelBus struct {
	bufferSize int

	mu     sync.RWMutex
	topics map[string][]*channelSubscription
	closed bool

	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type channelSubscription struct {
	id      string
	topic   string
	bus     *ChannelBus
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates a bus whose subscriptions buffer up to bufferSize
// messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string][]*channelSubscription),
	}
}

// Publish hands the message to every subscriber of topic without blocking.
// A subscriber with a full buffer misses it and the drop is counted.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := newMessage(ctx, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.topics[topic] {
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped, subscriber buffer full",
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}
	return nil
}

// Subscribe starts a goroutine running handler for each message on topic.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		bus:     b,
		handler: handler,
		queue:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.topics[topic] = append(b.topics[topic], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.consume()
	}()

	return sub, nil
}

func (s *channelSubscription) consume() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}

// Close cancels every subscription and waits for running handlers to return.
// Buffered messages not yet picked up are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.topics = make(map[string][]*channelSubscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *ChannelBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *ChannelBus) detach(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
		return
	}
	b.topics[sub.topic] = subs
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.detach(s)
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
