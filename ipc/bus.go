package ipc

import (
	"log/slog"
	"sync"

	"github.com/zhubert/agentdesk/logger"
)

// DefaultSubscriberBuffer is how many events a subscriber may fall behind
// before it is dropped.
const DefaultSubscriberBuffer = 1024

// Subscription receives every event published on a Bus.
type Subscription struct {
	ch     chan ServerEvent
	closed bool // guarded by Bus.mu
}

// Events returns the subscription's channel. It is closed when the
// subscription is removed or dropped for falling behind.
func (s *Subscription) Events() <-chan ServerEvent {
	return s.ch
}

// Bus is the single egress for server events. Publishing never blocks: a
// subscriber whose buffer is full is dropped instead of stalling emitters.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	log    *slog.Logger
}

// NewBus creates a bus whose subscribers buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		log:    logger.WithComponent("ipc-bus"),
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed bus returns
// an already closed subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{ch: make(chan ServerEvent, b.buffer)}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Bus) removeLocked(sub *Subscription) {
	delete(b.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Publish delivers ev to every subscriber in publish order.
func (b *Bus) Publish(ev ServerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn("dropping slow subscriber", "event", ev.Type, "buffer", b.buffer)
			b.removeLocked(sub)
		}
	}
}

// Emit publishes an event. It satisfies manager.Emitter.
func (b *Bus) Emit(eventType string, payload any) {
	b.Publish(ServerEvent{Type: eventType, Payload: payload})
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close removes every subscriber. Later subscriptions start closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		b.removeLocked(sub)
	}
}
