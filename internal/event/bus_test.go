package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/keepalive/pkg/plugin"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var received plugin.Event

	bus.Subscribe("keepalive.task.started", func(ctx context.Context, e plugin.Event) {
		received = e
	})

	event := plugin.Event{
		Topic:     "keepalive.task.started",
		Source:    "keepalive",
		Timestamp: time.Now(),
		Payload:   "hello",
	}

	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if received.Topic != "keepalive.task.started" {
		t.Errorf("received.Topic = %q, want %q", received.Topic, "keepalive.task.started")
	}
	if received.Payload != "hello" {
		t.Errorf("received.Payload = %v, want %q", received.Payload, "hello")
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	bus.SubscribeAll(func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	bus.Publish(context.Background(), plugin.Event{Topic: "b"})

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("SubscribeAll handler called %d times, want 2", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	unsub := bus.Subscribe("test", func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "test"})
	unsub()
	bus.Publish(context.Background(), plugin.Event{Topic: "test"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("handler called %d times after unsubscribe, want 1", got)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	unsub := bus.SubscribeAll(func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "test"})
	unsub()
	bus.Publish(context.Background(), plugin.Event{Topic: "test"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("handler called %d times after unsubscribe, want 1", got)
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(testLogger())
	var wg sync.WaitGroup
	var count int32

	wg.Add(2)
	bus.Subscribe("keepalive.task.terminated", func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	bus.SubscribeAll(func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})

	bus.PublishAsync(context.Background(), plugin.Event{Topic: "keepalive.task.terminated"})

	wg.Wait()
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("async handlers called %d times, want 2", got)
	}
}

func TestHandlerPanicRecovery(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	bus.Subscribe("keepalive.config.error", func(ctx context.Context, e plugin.Event) {
		panic("test panic")
	})
	bus.Subscribe("keepalive.config.error", func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&count, 1)
	})

	// Should not panic, and second handler should still run.
	bus.Publish(context.Background(), plugin.Event{Topic: "keepalive.config.error"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("second handler called %d times, want 1", got)
	}
}

func TestNoSubscribersOK(t *testing.T) {
	bus := NewBus(testLogger())

	// Publishing with no subscribers should not error.
	if err := bus.Publish(context.Background(), plugin.Event{Topic: "empty"}); err != nil {
		t.Fatalf("Publish() with no subscribers error = %v", err)
	}
}

func TestUnsubscribeFromHandler(t *testing.T) {
	bus := NewBus(testLogger())
	var count int32

	var unsub func()
	unsub = bus.Subscribe("keepalive.task.started", func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&count, 1)
		unsub()
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "keepalive.task.started"})
	bus.Publish(context.Background(), plugin.Event{Topic: "keepalive.task.started"})

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("self-unsubscribing handler called %d times, want 1", got)
	}
}

func TestTopicIsolation(t *testing.T) {
	bus := NewBus(nil)
	var started, terminated int32

	bus.Subscribe("keepalive.task.started", func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&started, 1)
	})
	bus.Subscribe("keepalive.task.terminated", func(ctx context.Context, e plugin.Event) {
		atomic.AddInt32(&terminated, 1)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "keepalive.task.terminated"})

	if atomic.LoadInt32(&started) != 0 || atomic.LoadInt32(&terminated) != 1 {
		t.Errorf("started=%d terminated=%d, want 0 and 1", started, terminated)
	}
}
