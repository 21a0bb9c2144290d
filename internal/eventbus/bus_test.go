package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pyde1-core/internal/domain"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(nil, nil)
	received := make(chan domain.Event, 1)
	bus.Subscribe(domain.KindStateUpdate, func(e domain.Event) {
		received <- e
	})

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate, Sender: "de1"})

	select {
	case evt := <-received:
		if evt.Kind != domain.KindStateUpdate {
			t.Fatalf("got kind %v, want %v", evt.Kind, domain.KindStateUpdate)
		}
		if evt.EventTime.IsZero() {
			t.Fatal("expected EventTime to be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishDoesNotDeliverOtherKinds(t *testing.T) {
	bus := New(nil, nil)
	received := make(chan domain.Event, 1)
	bus.Subscribe(domain.KindShotSample, func(e domain.Event) {
		received <- e
	})

	bus.Publish(domain.Event{Kind: domain.KindStateUpdate})

	select {
	case <-received:
		t.Fatal("did not expect delivery for unsubscribed kind")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil, nil)
	var count int
	var mu sync.Mutex
	sub := bus.Subscribe(domain.KindWaterLevel, func(domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(domain.Event{Kind: domain.KindWaterLevel})
	time.Sleep(50 * time.Millisecond)

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // idempotent

	bus.Publish(domain.Event{Kind: domain.KindWaterLevel})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("got %d deliveries, want 1", count)
	}
}

func TestPerSenderOrderingPreserved(t *testing.T) {
	bus := New(nil, nil)
	const n = 200
	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})

	bus.Subscribe(domain.KindShotSample, func(e domain.Event) {
		mu.Lock()
		seen = append(seen, e.Payload.(int))
		if len(seen) == n {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < n; i++ {
		bus.Publish(domain.Event{Kind: domain.KindShotSample, Sender: "de1", Payload: i})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("out-of-order delivery at index %d: got %d", i, v)
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := New(nil, nil)
	block := make(chan struct{})
	bus.Subscribe(domain.KindShotSample, func(domain.Event) {
		<-block
	})

	fast := make(chan struct{}, 1)
	bus.Subscribe(domain.KindShotSample, func(domain.Event) {
		select {
		case fast <- struct{}{}:
		default:
		}
	})

	bus.Publish(domain.Event{Kind: domain.KindShotSample})

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber was blocked by slow one")
	}
	close(block)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	bus := New(nil, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	var once sync.Once
	const total = subscriberQueueSize + 10
	var mu sync.Mutex
	var seen []int

	bus.Subscribe(domain.KindShotSample, func(e domain.Event) {
		once.Do(func() { close(started) })
		<-release
		mu.Lock()
		seen = append(seen, e.Payload.(int))
		if e.Payload.(int) == total-1 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < total; i++ {
		bus.Publish(domain.Event{Kind: domain.KindShotSample, Payload: i})
	}

	<-started
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the newest event")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) >= total || len(seen) < subscriberQueueSize {
		t.Fatalf("got %d deliveries, want between %d and %d", len(seen), subscriberQueueSize, total-1)
	}
	// The queue kept the newest subscriberQueueSize events, in order; the
	// oldest ones were dropped.
	tail := seen[len(seen)-subscriberQueueSize:]
	for i, v := range tail {
		if want := total - subscriberQueueSize + i; v != want {
			t.Fatalf("kept event %d is %d, want %d", i, v, want)
		}
	}
}
