// Package eventbus implements the in-process typed publish/subscribe bus
// described in spec §4.A. Subscribers register a handler keyed by event
// kind; publishers post and return without waiting. Each subscriber has its
// own bounded queue so a slow or failing subscriber can never block, or
// drop events for, any other subscriber.
package eventbus

import (
	"sync"

	"github.com/nerrad567/pyde1-core/internal/domain"
)

// Logger is the narrow logging interface the bus depends on, following
// this codebase's per-package Logger interface + noopLogger convention.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// subscriberQueueSize is the per-subscriber bounded queue depth. When full,
// the oldest queued event is dropped to make room for the new one (spec
// §4.A "oldest-drop and error-log is required policy").
const subscriberQueueSize = 256

// Handler receives events of the kind it was subscribed to. It runs on the
// subscriber's own delivery goroutine, never on the publisher's goroutine.
type Handler func(domain.Event)

// Subscription is an opaque handle returned by Subscribe; pass it to
// Unsubscribe to stop delivery. Unsubscribe is idempotent.
type Subscription struct {
	kind domain.EventKind
	id   uint64
}

type subscriber struct {
	id      uint64
	queue   chan domain.Event
	handler Handler
	done    chan struct{}
}

// Bus is a typed in-process pub/sub dispatcher. The zero value is not
// usable; construct with New.
type Bus struct {
	logger Logger
	clock  domain.Clock

	mu          sync.RWMutex
	subscribers map[domain.EventKind][]*subscriber
	nextID      uint64

	// senderSeq enforces per-sender, per-subscriber publish ordering: events
	// from a single sender are delivered to each subscriber in publish
	// order, per spec §4.A and §5 "Ordering guarantees". Because each
	// subscriber already has its own single-consumer queue, in-order
	// delivery falls out of "one queue, one reader" without extra
	// bookkeeping -- this field exists only to make that guarantee explicit
	// and testable.
	senderSeq map[string]uint64
}

// New returns a ready-to-use Bus. A nil logger is replaced with a no-op; a
// nil clock defaults to domain.RealClock{}.
func New(logger Logger, clock domain.Clock) *Bus {
	if logger == nil {
		logger = noopLogger{}
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Bus{
		logger:      logger,
		clock:       clock,
		subscribers: make(map[domain.EventKind][]*subscriber),
		senderSeq:   make(map[string]uint64),
	}
}

// Subscribe registers handler for events of kind. Delivery happens on a
// dedicated goroutine per subscriber, draining its bounded queue in FIFO
// order, so handler is never called concurrently with itself.
func (b *Bus) Subscribe(kind domain.EventKind, handler Handler) Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{
		id:      id,
		queue:   make(chan domain.Event, subscriberQueueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	b.mu.Unlock()

	go b.deliverLoop(kind, sub)

	return Subscription{kind: kind, id: id}
}

// Unsubscribe stops delivery to the given subscription. Calling it more
// than once, or with a subscription already removed, is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subscribers[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			b.subscribers[sub.kind] = append(list[:i], list[i+1:]...)
			close(s.done)
			return
		}
	}
}

// Publish stamps the event (CreateTime if unset, EventTime always) and
// fans it out to every subscriber of its kind, in registration order,
// without waiting for any of them to process it.
func (b *Bus) Publish(evt domain.Event) {
	now := b.clock.Now()
	if evt.CreateTime.IsZero() {
		evt.CreateTime = now
	}
	evt.EventTime = b.clock.Monotonic()

	b.mu.Lock()
	b.senderSeq[evt.Sender]++
	subs := append([]*subscriber(nil), b.subscribers[evt.Kind]...)
	b.mu.Unlock()

	for _, sub := range subs {
		b.enqueue(sub, evt)
	}
}

// enqueue delivers evt to sub's queue, dropping the oldest queued event and
// logging if the queue is full.
func (b *Bus) enqueue(sub *subscriber, evt domain.Event) {
	select {
	case sub.queue <- evt:
		return
	default:
	}

	// Queue full: drop the oldest item to make room, per policy.
	select {
	case <-sub.queue:
		b.logger.Error("subscriber queue full, dropped oldest event", "kind", evt.Kind)
	default:
	}
	select {
	case sub.queue <- evt:
	default:
		// Lost a race with another publisher; subscriber is pathologically
		// behind. Log and drop this event rather than block the publisher.
		b.logger.Error("subscriber queue contended, dropped event", "kind", evt.Kind)
	}
}

func (b *Bus) deliverLoop(kind domain.EventKind, sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case evt, ok := <-sub.queue:
			if !ok {
				return
			}
			b.callHandler(sub, evt)
		}
	}
}

// callHandler invokes the handler with panic recovery so one failing
// subscriber can never take down the bus or any other subscriber (spec §4.A
// "slow/failing subscriber must not block others").
func (b *Bus) callHandler(sub *subscriber, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber handler panicked", "kind", evt.Kind, "panic", r)
		}
	}()
	sub.handler(evt)
}

// SubscriberCount returns the number of active subscribers for kind, used
// by health checks and tests.
func (b *Bus) SubscriberCount(kind domain.EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}
