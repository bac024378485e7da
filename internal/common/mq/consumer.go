package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rexe/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultConsumerWait        = 10 * time.Second
	defaultConsumerMaxAttempts = 2
	defaultRetryBaseDelay      = 200 * time.Millisecond
	defaultRetryMaxDelay       = 2 * time.Second
)

// Handler processes one delivery. It is responsible for deleting the delivery
// once its effects are durable; returning an error leaves the delivery pending.
type Handler func(ctx context.Context, d *Delivery) error

// ConsumerConfig controls one receive loop.
type ConsumerConfig struct {
	Name  string
	Topic string
	// Wait bounds each receive call.
	Wait time.Duration
	// MaxAttempts is the number of consecutive failed attempts after which a cycle is abandoned.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// CycleOutcome describes how one logical receive cycle ended.
type CycleOutcome int

const (
	CycleIdle CycleOutcome = iota
	CycleProcessed
	CycleAbandoned
)

func (o CycleOutcome) String() string {
	switch o {
	case CycleIdle:
		return "idle"
	case CycleProcessed:
		return "processed"
	case CycleAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Consumer is a single-threaded receive loop over one topic. Each receive uses a fresh
// attempt id; a failed attempt is retried once and then the cycle is abandoned.
type Consumer struct {
	queue        Queue
	cfg          ConsumerConfig
	handler      Handler
	newAttemptID func() string
}

// NewConsumer creates a consumer loop.
func NewConsumer(queue Queue, cfg ConsumerConfig, handler Handler) (*Consumer, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Topic
	}
	if cfg.Wait <= 0 {
		cfg.Wait = defaultConsumerWait
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultConsumerMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	return &Consumer{
		queue:        queue,
		cfg:          cfg,
		handler:      handler,
		newAttemptID: uuid.NewString,
	}, nil
}

// Run loops until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info(ctx, "consumer started", zap.String("consumer", c.cfg.Name), zap.String("topic", c.cfg.Topic))
	for ctx.Err() == nil {
		c.Cycle(ctx)
	}
	logger.Info(ctx, "consumer stopped", zap.String("consumer", c.cfg.Name))
	return nil
}

// Cycle runs one logical receive attempt, with its retry, to completion.
func (c *Consumer) Cycle(ctx context.Context) CycleOutcome {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepContext(ctx, ComputeBackoff(attempt-1, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)) {
				return CycleIdle
			}
		}
		attemptID := c.newAttemptID()
		delivery, err := c.queue.Receive(ctx, c.cfg.Topic, c.cfg.Wait, attemptID)
		if err != nil {
			if ctx.Err() != nil {
				return CycleIdle
			}
			lastErr = err
			logger.Warn(ctx, "receive failed",
				zap.String("consumer", c.cfg.Name),
				zap.String("attempt_id", attemptID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		if delivery == nil {
			return CycleIdle
		}

		if err := c.handle(ctx, delivery); err != nil {
			lastErr = err
			logger.Warn(ctx, "handle delivery failed",
				zap.String("consumer", c.cfg.Name),
				zap.String("attempt_id", attemptID),
				zap.String("message_id", delivery.Message.ID),
				zap.Int("attempt", attempt+1),
				zap.Int("receives", delivery.Receives),
				zap.Error(err),
			)
			if attempt+1 < c.cfg.MaxAttempts {
				if relErr := c.queue.Release(ctx, delivery.Receipt); relErr != nil {
					logger.Warn(ctx, "release delivery failed", zap.String("consumer", c.cfg.Name), zap.Error(relErr))
				}
			}
			continue
		}
		return CycleProcessed
	}

	logger.Error(ctx, "consumer cycle abandoned",
		zap.String("consumer", c.cfg.Name),
		zap.Int("attempts", c.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
	return CycleAbandoned
}

func (c *Consumer) handle(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}
