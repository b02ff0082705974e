package bus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus delivers messages in process. Each subscriber owns a buffered
// queue drained by its own goroutine, so a slow retrain never blocks the
// feedback handlers that publish.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	topics map[string][]*queue
	closed bool
}

// queue is one subscriber's inbox.
type queue struct {
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	stop    context.CancelFunc
	owner   *ChannelBus
}

// NewChannelBus creates a bus whose subscriber queues hold bufferSize
// messages (100 when bufferSize <= 0).
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &ChannelBus{
		buffer: bufferSize,
		topics: make(map[string][]*queue),
	}
}

// Publish fans the message out to every queue on topic. A full queue
// drops the message with a warning.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := envelope(ctx, topic, payload)
	for _, q := range b.topics[topic] {
		select {
		case q.inbox <- msg:
		default:
			slog.Warn("subscriber queue full, dropping message", "topic", topic, "message_id", msg.ID)
		}
	}
	return nil
}

// Subscribe starts a queue for topic. Messages are handled one at a time
// until ctx ends or the subscription is removed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	qctx, stop := context.WithCancel(ctx)
	q := &queue{
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.buffer),
		stop:    stop,
		owner:   b,
	}
	b.topics[topic] = append(b.topics[topic], q)

	go q.drain(qctx)
	return q, nil
}

func (q *queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.inbox:
			if err := q.handler(deliveryContext(ctx, msg), msg); err != nil {
				slog.Error("event handler failed", "topic", q.topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Unsubscribe stops the queue. Buffered messages are discarded.
func (q *queue) Unsubscribe() error {
	q.stop()

	b := q.owner
	b.mu.Lock()
	defer b.mu.Unlock()
	rest := slices.DeleteFunc(b.topics[q.topic], func(other *queue) bool { return other == q })
	if len(rest) == 0 {
		delete(b.topics, q.topic)
	} else {
		b.topics[q.topic] = rest
	}
	return nil
}

// Topic returns the subscribed topic.
func (q *queue) Topic() string { return q.topic }

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every queue. It is safe to call more than once.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, queues := range b.topics {
		for _, q := range queues {
			q.stop()
		}
	}
	clear(b.topics)
	return nil
}
