package mq

import (
	"context"
	"time"
)

// Queue is a durable at-least-once queue with SQS-like receipt semantics on top of
// whatever transport backs it. A received delivery stays invisible to other receivers
// until it is deleted, released, or its visibility timeout lapses.
type Queue interface {
	// Enqueue publishes body to topic. Messages sharing a non-empty dedupToken
	// within the dedup window are coalesced into one.
	Enqueue(ctx context.Context, topic, dedupToken string, body []byte) error

	// Receive waits up to wait for one message. It returns (nil, nil) when nothing arrived.
	// Repeating a receive with the same attemptID returns the same delivery while it is pending.
	Receive(ctx context.Context, topic string, wait time.Duration, attemptID string) (*Delivery, error)

	// Delete acknowledges a delivery so it is never delivered again.
	Delete(ctx context.Context, receipt string) error

	// Release makes a pending delivery visible again immediately.
	Release(ctx context.Context, receipt string) error

	// Close releases transport resources.
	Close() error
}

// Delivery is one received message plus the receipt that acknowledges it.
type Delivery struct {
	Receipt   string
	AttemptID string
	Topic     string
	Message   *Message
	// Receives counts how many times this message has been handed out.
	Receives int
}

// Message represents a message in the queue
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// DedupToken is the token the producer enqueued the message with
	DedupToken string `json:"dedup_token"`
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}
