package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"label-inspector/internal/domain"
)

func newTestBus(opts ...Option) *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventFrameRendered, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventFrameRendered {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
	bus.Publish(context.Background(), newEvent(domain.EventErrorSurfaced))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
	bus.Publish(context.Background(), newEvent(domain.EventBackendReady))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestDeliveryOrderPerSubscriber(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var order []domain.EventType
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		order = append(order, e.Type)
		mu.Unlock()
	})

	want := []domain.EventType{
		domain.EventInspectionPending,
		domain.EventInspectionCompleted,
		domain.EventErrorSurfaced,
	}
	for _, typ := range want {
		bus.Publish(context.Background(), newEvent(typ))
	}
	bus.Close()

	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventFrameRendered, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})
	unsubAll := bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	unsub()
	unsubAll()
	unsub() // idempotent
	bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
	bus.Close()

	if got.Load() != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", got.Load())
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventFrameRendered, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	bus := newTestBus(WithMailbox(1))

	release := make(chan struct{})
	var got atomic.Int32
	bus.Subscribe(domain.EventFrameRendered, func(_ context.Context, _ domain.Event) {
		<-release
		got.Add(1)
	})

	// The first event is taken by the handler, the second fills the mailbox,
	// the rest are dropped. Give the handler time to pick up the first.
	bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
	}
	close(release)
	bus.Close()

	if got.Load() != 2 {
		t.Errorf("delivered = %d, want 2", got.Load())
	}
	if bus.Dropped() != 4 {
		t.Errorf("Dropped() = %d, want 4", bus.Dropped())
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	// First subscriber panics on every event
	bus.Subscribe(domain.EventErrorSurfaced, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	// Second subscriber should still fire
	bus.Subscribe(domain.EventErrorSurfaced, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventErrorSurfaced))
	bus.Publish(context.Background(), newEvent(domain.EventErrorSurfaced))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2 (second handler), got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventFrameRendered, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
	bus.Close() // should block until the handler finishes
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected handler to have run, got %d", got.Load())
	}

	// After close, new publishes should be no-ops
	bus.Publish(context.Background(), newEvent(domain.EventFrameRendered))
	time.Sleep(20 * time.Millisecond)
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}
