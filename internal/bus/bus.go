// internal/bus/bus.go
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names a stream of messages.
type Topic string

// ErrClosed is returned by Post once Shutdown has begun.
var ErrClosed = errors.New("bus is shut down")

// Message is the envelope delivered to subscribers.
type Message struct {
	ID        string
	Timestamp time.Time
	Topic     Topic
	Payload   interface{}
}

// Bus is an in-process pub/sub hub. Each subscriber receives the messages of
// its topics in the order they were posted. Post blocks while a subscriber's
// buffer is full, and every delivered message must be acknowledged before
// Shutdown returns.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[Topic][]chan Message

	// inFlight counts delivered but unacknowledged messages.
	inFlight sync.WaitGroup
	// posting counts Post calls that passed the shutdown check.
	posting sync.WaitGroup

	closeMu  sync.Mutex
	closed   bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a bus whose subscriber channels hold bufferSize messages.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:      logger.Named("bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[Topic][]chan Message),
		done:        make(chan struct{}),
	}
}

// Post publishes payload on topic. With no subscribers it returns immediately.
func (b *Bus) Post(ctx context.Context, topic Topic, payload interface{}) error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return ErrClosed
	}
	b.posting.Add(1)
	b.closeMu.Unlock()
	defer b.posting.Done()

	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Payload:   payload,
	}

	b.mu.RLock()
	targets := append([]chan Message(nil), b.subscribers[topic]...)
	b.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	b.logger.Debug("Posting message.", zap.String("topic", string(topic)), zap.String("id", msg.ID), zap.Int("subscribers", len(targets)))

	for _, ch := range targets {
		b.inFlight.Add(1)
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.inFlight.Done()
			return ctx.Err()
		case <-b.done:
			b.inFlight.Done()
			return ErrClosed
		}
	}
	return nil
}

// Subscribe registers for one or more topics. The returned channel is closed
// by Shutdown; the returned func removes the subscription without closing it.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Message, func()) {
	if len(topics) == 0 {
		panic("bus: Subscribe requires at least one topic")
	}

	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Message, b.bufferSize)
	subscribed := append([]Topic(nil), topics...)

	b.mu.Lock()
	for _, t := range subscribed {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, t := range subscribed {
			subs := b.subscribers[t]
			for i, c := range subs {
				if c != ch {
					continue
				}
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
			if len(subs) == 0 {
				delete(b.subscribers, t)
			} else {
				b.subscribers[t] = subs
			}
		}
	}
	return ch, unsubscribe
}

// Acknowledge marks a received message as processed.
func (b *Bus) Acknowledge(Message) {
	b.inFlight.Done()
}

// Shutdown stops accepting posts, closes every subscriber channel, drops
// messages still buffered, and waits for acknowledged processing to finish.
// Safe to call more than once.
func (b *Bus) Shutdown() {
	b.stopOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		b.closeMu.Unlock()
		close(b.done)

		// No sender remains after this.
		b.posting.Wait()

		b.mu.Lock()
		unique := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		b.subscribers = make(map[Topic][]chan Message)
		b.mu.Unlock()

		dropped := 0
		for ch := range unique {
			close(ch)
		}
		for ch := range unique {
			for range ch {
				dropped++
				b.inFlight.Done()
			}
		}
		if dropped > 0 {
			b.logger.Debug("Dropped buffered messages during shutdown.", zap.Int("count", dropped))
		}

		b.inFlight.Wait()
		b.logger.Debug("Bus shut down.")
	})
}
