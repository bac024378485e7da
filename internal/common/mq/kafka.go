package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	appErr "rexe/pkg/errors"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-ts"
	headerDedup     = "x-message-dedup"
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientID"`
	// GroupID is the consumer group shared by every receiver of a topic.
	// Defaults to "rexe-<topic>".
	GroupID string `yaml:"groupID"`

	// Producer settings
	RequiredAcks int               `yaml:"requiredAcks"`
	BatchSize    int               `yaml:"batchSize"`
	BatchTimeout time.Duration     `yaml:"batchTimeout"`
	Compression  kafka.Compression `yaml:"compression"`

	// Consumer settings
	MinBytes int           `yaml:"minBytes"`
	MaxBytes int           `yaml:"maxBytes"`
	MaxWait  time.Duration `yaml:"maxWait"`

	// Delivery semantics
	VisibilityTimeout time.Duration `yaml:"visibilityTimeout"`
	RetentionWindow   time.Duration `yaml:"retentionWindow"`
	DedupWindow       time.Duration `yaml:"dedupWindow"`
	MaxInFlight       int           `yaml:"maxInFlight"`

	// Dialer settings
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// KafkaQueue implements Queue on Kafka consumer groups. Offsets are committed only
// up to the highest contiguous deleted message of each partition.
type KafkaQueue struct {
	config  KafkaConfig
	writer  *kafka.Writer
	dialer  *kafka.Dialer
	dedup   Deduper
	pending *pendingSet
	limiter *TokenLimiter

	mu        sync.Mutex
	consumers map[string]*topicConsumer
	closed    bool
}

type topicConsumer struct {
	topic  string
	reader *kafka.Reader

	mu       sync.Mutex
	trackers map[int]*offsetTracker
}

// NewKafkaQueue creates a Kafka-backed queue. dedup may be nil to disable coalescing.
func NewKafkaQueue(cfg KafkaConfig, dedup Deduper) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = int(kafka.RequireAll)
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 2 * time.Minute
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}

	q := &KafkaQueue{
		config:    cfg,
		writer:    writer,
		dialer:    dialer,
		dedup:     dedup,
		pending:   newPendingSet(cfg.VisibilityTimeout, cfg.RetentionWindow, time.Now),
		consumers: make(map[string]*topicConsumer),
	}
	if cfg.MaxInFlight > 0 {
		q.limiter = NewTokenLimiter(cfg.MaxInFlight)
	}
	return q, nil
}

// Enqueue publishes a message to a topic.
func (k *KafkaQueue) Enqueue(ctx context.Context, topic, dedupToken string, body []byte) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if k.dedup != nil && dedupToken != "" {
		first, err := k.dedup.Claim(ctx, topic, dedupToken)
		if err != nil {
			return appErr.Wrapf(err, appErr.QueueError, "dedup check on %s failed", topic)
		}
		if !first {
			return nil
		}
	}
	msg := NewMessage(body)
	msg.ID = uuid.NewString()
	msg.DedupToken = dedupToken
	if err := k.writer.WriteMessages(ctx, toKafkaMessage(topic, msg)); err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "publish to %s failed", topic)
	}
	return nil
}

// Receive fetches one message from topic, waiting at most wait.
func (k *KafkaQueue) Receive(ctx context.Context, topic string, wait time.Duration, attemptID string) (*Delivery, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if d := k.pending.forAttempt(topic, attemptID); d != nil {
		return d, nil
	}
	consumer, err := k.consumer(topic)
	if err != nil {
		return nil, err
	}

	d, dropped := k.pending.claimExpired(topic, attemptID)
	for _, p := range dropped {
		k.releaseToken()
		if err := k.ack(ctx, consumer, p.partition, p.offset); err != nil {
			return nil, err
		}
	}
	if d != nil {
		return d, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if k.limiter != nil {
		if err := k.limiter.Acquire(waitCtx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, nil
		}
	}

	for {
		raw, err := consumer.reader.FetchMessage(waitCtx)
		if err != nil {
			k.releaseToken()
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, appErr.Wrapf(err, appErr.QueueError, "fetch from %s failed", topic)
		}
		consumer.track(raw.Partition, raw.Offset)

		msg := fromKafkaMessage(raw)
		if k.pending.outlived(msg, time.Now()) {
			// Expired messages are acknowledged without delivery.
			if err := k.ack(ctx, consumer, raw.Partition, raw.Offset); err != nil {
				k.releaseToken()
				return nil, err
			}
			continue
		}
		return k.pending.add(topic, msg, attemptID, raw.Partition, raw.Offset), nil
	}
}

// Delete acknowledges a delivery and commits whatever offset that unblocks.
func (k *KafkaQueue) Delete(ctx context.Context, receipt string) error {
	p, ok := k.pending.remove(receipt)
	if !ok {
		return appErr.New(appErr.QueueReceiptUnknown).WithDetail("receipt", receipt)
	}
	k.releaseToken()

	k.mu.Lock()
	consumer := k.consumers[p.delivery.Topic]
	k.mu.Unlock()
	if consumer == nil {
		return appErr.Newf(appErr.QueueError, "no consumer for topic %s", p.delivery.Topic)
	}
	return k.ack(ctx, consumer, p.partition, p.offset)
}

// Release makes a delivery visible again immediately.
func (k *KafkaQueue) Release(ctx context.Context, receipt string) error {
	if !k.pending.release(receipt) {
		return appErr.New(appErr.QueueReceiptUnknown).WithDetail("receipt", receipt)
	}
	return nil
}

// Ping verifies the Kafka connection.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close closes the producer and all readers.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	consumers := k.consumers
	k.consumers = map[string]*topicConsumer{}
	k.mu.Unlock()

	for _, c := range consumers {
		_ = c.reader.Close()
	}
	return k.writer.Close()
}

func (k *KafkaQueue) consumer(topic string) (*topicConsumer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, errors.New("message queue is closed")
	}
	if c, ok := k.consumers[topic]; ok {
		return c, nil
	}
	groupID := k.config.GroupID
	if groupID == "" {
		groupID = fmt.Sprintf("rexe-%s", topic)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	c := &topicConsumer{topic: topic, reader: reader, trackers: make(map[int]*offsetTracker)}
	k.consumers[topic] = c
	return c, nil
}

func (k *KafkaQueue) ack(ctx context.Context, c *topicConsumer, partition int, offset int64) error {
	commit, ok := c.ack(partition, offset)
	if !ok {
		return nil
	}
	err := c.reader.CommitMessages(ctx, kafka.Message{Topic: c.topic, Partition: partition, Offset: commit})
	if err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "commit %s/%d@%d failed", c.topic, partition, commit)
	}
	return nil
}

func (k *KafkaQueue) releaseToken() {
	if k.limiter != nil {
		k.limiter.Release()
	}
}

func (c *topicConsumer) track(partition int, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trackers[partition]
	if !ok {
		t = newOffsetTracker()
		c.trackers[partition] = t
	}
	t.track(offset)
}

func (c *topicConsumer) ack(partition int, offset int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trackers[partition]
	if !ok {
		return 0, false
	}
	return t.ack(offset)
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+3)
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	if message.DedupToken != "" {
		headers = append(headers, kafka.Header{Key: headerDedup, Value: []byte(message.DedupToken)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				m.Timestamp = ts
			}
		case headerDedup:
			m.DedupToken = string(h.Value)
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	if m.ID == "" {
		m.ID = string(msg.Key)
	}
	return m
}
