// Package service implements the result ingestor: it turns completion notices
// into durable completion records and releases the in-flight lock.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rexe/internal/common/mq"
	"rexe/internal/submission/model"
	"rexe/internal/submit/repository"
	"rexe/pkg/utils/contextkey"
	"rexe/pkg/utils/logger"
)

// Metrics observes ingested notices.
type Metrics interface {
	ObserveCompletion(ctx context.Context, language string, inserted bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCompletion(context.Context, string, bool) {}

// IngestService consumes the result topic.
type IngestService struct {
	completions repository.CompletionRepository
	lock        repository.InflightLock
	queue       mq.Queue
	metrics     Metrics
}

// NewIngestService creates an ingestor. metrics may be nil.
func NewIngestService(completions repository.CompletionRepository, lock repository.InflightLock, queue mq.Queue, metrics Metrics) (*IngestService, error) {
	if completions == nil || lock == nil || queue == nil {
		return nil, fmt.Errorf("completion repository, lock and queue are required")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &IngestService{completions: completions, lock: lock, queue: queue, metrics: metrics}, nil
}

// Topic is the queue topic the ingestor consumes.
func (s *IngestService) Topic() string {
	return model.ResultTopic
}

// Handle records the completion, clears the lock held for that fingerprint and
// then deletes the delivery. The record is durable before the lock goes away,
// so a resubmission in between still hits the idempotency check.
func (s *IngestService) Handle(ctx context.Context, d *mq.Delivery) error {
	notice, key, err := model.DecodeCompletionNotice(d.Message.Body)
	if err != nil {
		logger.Error(ctx, "drop malformed completion notice", zap.String("message_id", d.Message.ID), zap.Error(err))
		return s.queue.Delete(ctx, d.Receipt)
	}
	ctx = context.WithValue(ctx, contextkey.Username, key.Username)
	ctx = context.WithValue(ctx, contextkey.Language, string(key.Language))

	inserted, err := s.completions.Record(ctx, &repository.Completion{
		Username:      key.Username,
		SubmissionKey: key.String(),
		Fingerprint:   notice.Fingerprint,
	})
	if err != nil {
		return err
	}
	released, err := s.lock.Release(ctx, key, notice.Fingerprint)
	if err != nil {
		return err
	}
	if !released && notice.QueuedFingerprint != "" && notice.QueuedFingerprint != notice.Fingerprint {
		// A concurrent submission replaced the payload after this one took the lock.
		released, err = s.lock.Release(ctx, key, notice.QueuedFingerprint)
		if err != nil {
			return err
		}
	}
	if err := s.queue.Delete(ctx, d.Receipt); err != nil {
		return err
	}
	s.metrics.ObserveCompletion(ctx, string(key.Language), inserted)
	logger.Info(ctx, "completion recorded",
		zap.String("submission_key", key.String()),
		zap.Bool("inserted", inserted),
		zap.Bool("lock_released", released),
		zap.Int("receives", d.Receives),
	)
	return nil
}
