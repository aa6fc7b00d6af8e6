// Package eventbus is the in-process publish/subscribe hub that connects the
// station core to the operator gateway and console.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"label-inspector/internal/domain"
)

// DefaultMailbox is the per-subscriber queue length.
const DefaultMailbox = 256

type envelope struct {
	ctx   context.Context
	event domain.Event
}

// subscription delivers events to one handler in publish order from its own
// goroutine. A full mailbox drops the event rather than block the publisher.
type subscription struct {
	id      uint64
	handler domain.EventHandler

	mu     sync.Mutex
	closed bool
	queue  chan envelope
}

func (s *subscription) offer(env envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.queue <- env:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailbox sets the per-subscriber queue length.
func WithMailbox(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.mailbox = n
		}
	}
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	mailbox int
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Uint64
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		typed:   make(map[domain.EventType][]*subscription),
		mailbox: DefaultMailbox,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish queues an event for matching typed subscribers and all-event
// subscribers. It never blocks on a slow handler.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	subs = append(subs, b.typed[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	env := envelope{ctx: ctx, event: event}
	for _, sub := range subs {
		if !sub.offer(env) {
			b.dropped.Add(1)
			b.logger.Debug("event dropped, subscriber is behind", "event", string(event.Type), "subscriber", sub.id)
		}
	}
}

// Dropped returns the number of events discarded because a mailbox was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for env := range sub.queue {
		b.deliver(sub, env)
	}
}

func (b *Bus) deliver(sub *subscription, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(env.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(env.ctx, env.event)
}

func (b *Bus) newSubscription(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		queue:   make(chan envelope, b.mailbox),
	}
	b.wg.Add(1)
	go b.run(sub)
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == sub.id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}
}

// Close prevents new publishes, lets every handler drain its mailbox and
// waits for them to finish. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	var subs []*subscription
	for _, typed := range b.typed {
		subs = append(subs, typed...)
	}
	subs = append(subs, b.allSubs...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
