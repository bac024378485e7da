package mq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestConsumer(t *testing.T, q Queue, handler Handler) *Consumer {
	t.Helper()
	c, err := NewConsumer(q, ConsumerConfig{
		Name:           "test",
		Topic:          "t",
		Wait:           10 * time.Millisecond,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	}, handler)
	if err != nil {
		t.Fatalf("new consumer failed: %v", err)
	}
	return c
}

func TestConsumerCycleProcessesAndDeletes(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueOptions{})
	ctx := context.Background()
	_ = q.Enqueue(ctx, "t", "a", []byte("payload"))

	var seen []string
	c := newTestConsumer(t, q, func(ctx context.Context, d *Delivery) error {
		seen = append(seen, string(d.Message.Body))
		return q.Delete(ctx, d.Receipt)
	})
	if got := c.Cycle(ctx); got != CycleProcessed {
		t.Fatalf("expected processed, got %s", got)
	}
	if len(seen) != 1 || seen[0] != "payload" {
		t.Fatalf("unexpected deliveries %v", seen)
	}
	if q.InFlight() != 0 || q.Depth("t") != 0 {
		t.Fatalf("expected queue to be drained")
	}
}

func TestConsumerCycleIdleOnEmptyQueue(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueOptions{})
	called := false
	c := newTestConsumer(t, q, func(ctx context.Context, d *Delivery) error {
		called = true
		return nil
	})
	if got := c.Cycle(context.Background()); got != CycleIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if called {
		t.Fatalf("handler must not run without a message")
	}
}

func TestConsumerRetriesOnceWithFreshAttempt(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueOptions{})
	ctx := context.Background()
	_ = q.Enqueue(ctx, "t", "a", []byte("payload"))

	var attempts []string
	calls := 0
	c := newTestConsumer(t, q, func(ctx context.Context, d *Delivery) error {
		calls++
		attempts = append(attempts, d.AttemptID)
		if calls == 1 {
			return errors.New("transient")
		}
		return q.Delete(ctx, d.Receipt)
	})
	if got := c.Cycle(ctx); got != CycleProcessed {
		t.Fatalf("expected processed, got %s", got)
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
	if attempts[0] == attempts[1] {
		t.Fatalf("expected a fresh attempt id on retry")
	}
	if q.InFlight() != 0 {
		t.Fatalf("expected delivery to be acknowledged")
	}
}

func TestConsumerAbandonsAfterTwoFailures(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(clock)
	ctx := context.Background()
	_ = q.Enqueue(ctx, "t", "a", []byte("payload"))

	calls := 0
	c := newTestConsumer(t, q, func(ctx context.Context, d *Delivery) error {
		calls++
		return errors.New("still broken")
	})
	if got := c.Cycle(ctx); got != CycleAbandoned {
		t.Fatalf("expected abandoned, got %s", got)
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
	if q.InFlight() != 1 {
		t.Fatalf("abandoned delivery must stay pending for redelivery")
	}

	if got := c.Cycle(ctx); got != CycleIdle {
		t.Fatalf("abandoned delivery must be invisible until timeout, got %s", got)
	}

	clock.Advance(2 * time.Minute)
	var receives int
	c.handler = func(ctx context.Context, d *Delivery) error {
		receives = d.Receives
		return q.Delete(ctx, d.Receipt)
	}
	if got := c.Cycle(ctx); got != CycleProcessed {
		t.Fatalf("expected redelivery to be processed, got %s", got)
	}
	if receives != 3 {
		t.Fatalf("expected third receive, got %d", receives)
	}
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueOptions{})
	ctx := context.Background()
	_ = q.Enqueue(ctx, "t", "a", []byte("payload"))
	c := newTestConsumer(t, q, func(ctx context.Context, d *Delivery) error {
		panic("boom")
	})
	if got := c.Cycle(ctx); got != CycleAbandoned {
		t.Fatalf("expected abandoned, got %s", got)
	}
}

type failingQueue struct {
	*MemoryQueue
	receives int
}

func (f *failingQueue) Receive(ctx context.Context, topic string, wait time.Duration, attemptID string) (*Delivery, error) {
	f.receives++
	return nil, fmt.Errorf("broker unavailable")
}

func TestConsumerAbandonsOnReceiveErrors(t *testing.T) {
	q := &failingQueue{MemoryQueue: NewMemoryQueue(MemoryQueueOptions{})}
	c := newTestConsumer(t, q, func(ctx context.Context, d *Delivery) error { return nil })
	if got := c.Cycle(context.Background()); got != CycleAbandoned {
		t.Fatalf("expected abandoned, got %s", got)
	}
	if q.receives != 2 {
		t.Fatalf("expected 2 receive attempts, got %d", q.receives)
	}
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueOptions{})
	c := newTestConsumer(t, q, func(ctx context.Context, d *Delivery) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("consumer did not stop")
	}
}
