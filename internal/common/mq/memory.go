package mq

import (
	"context"
	"errors"
	"sync"
	"time"

	appErr "rexe/pkg/errors"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue with the same receipt, visibility and dedup
// semantics as KafkaQueue. It backs single-process runs and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	topics  map[string][]*Message
	notify  chan struct{}
	dedup   Deduper
	pending *pendingSet
	now     func() time.Time
	closed  bool
}

// MemoryQueueOptions tunes MemoryQueue.
type MemoryQueueOptions struct {
	VisibilityTimeout time.Duration
	DedupWindow       time.Duration
	// RetentionWindow drops messages older than this on receive. Zero keeps them.
	RetentionWindow time.Duration
	// Now overrides the clock used for visibility and dedup windows.
	Now func() time.Time
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(opts MemoryQueueOptions) *MemoryQueue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MemoryQueue{
		topics:  make(map[string][]*Message),
		notify:  make(chan struct{}),
		dedup:   newMemoryDeduper(opts.DedupWindow, opts.Now),
		pending: newPendingSet(opts.VisibilityTimeout, opts.RetentionWindow, opts.Now),
		now:     opts.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, topic, dedupToken string, body []byte) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if dedupToken != "" {
		first, err := q.dedup.Claim(ctx, topic, dedupToken)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}
	msg := NewMessage(append([]byte(nil), body...))
	msg.ID = uuid.NewString()
	msg.Timestamp = q.now()
	msg.DedupToken = dedupToken

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.topics[topic] = append(q.topics[topic], msg)
	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, topic string, wait time.Duration, attemptID string) (*Delivery, error) {
	if d := q.pending.forAttempt(topic, attemptID); d != nil {
		return d, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		if d, _ := q.pending.claimExpired(topic, attemptID); d != nil {
			return d, nil
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, errors.New("message queue is closed")
		}
		for len(q.topics[topic]) > 0 {
			msg := q.topics[topic][0]
			q.topics[topic] = q.topics[topic][1:]
			if q.pending.outlived(msg, q.now()) {
				continue
			}
			q.mu.Unlock()
			return q.pending.add(topic, msg, attemptID, 0, 0), nil
		}
		notify := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	if _, ok := q.pending.remove(receipt); !ok {
		return appErr.New(appErr.QueueReceiptUnknown).WithDetail("receipt", receipt)
	}
	return nil
}

func (q *MemoryQueue) Release(ctx context.Context, receipt string) error {
	if !q.pending.release(receipt) {
		return appErr.New(appErr.QueueReceiptUnknown).WithDetail("receipt", receipt)
	}
	q.mu.Lock()
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Depth returns the number of visible messages waiting on topic.
func (q *MemoryQueue) Depth(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.topics[topic])
}

// InFlight returns the number of received but unacknowledged deliveries.
func (q *MemoryQueue) InFlight() int {
	return q.pending.size()
}
