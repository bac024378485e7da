// Package worker implements the per-language execution consumer.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rexe/internal/common/mq"
	"rexe/internal/execute/sandbox/result"
	"rexe/internal/execute/sandbox/runner"
	"rexe/internal/submission/model"
	appErr "rexe/pkg/errors"
	"rexe/pkg/utils/contextkey"
	"rexe/pkg/utils/logger"
)

// DocumentStore reads and writes JSON documents in the object store.
type DocumentStore interface {
	GetJSON(ctx context.Context, key string, value interface{}) error
	PutJSON(ctx context.Context, key string, value interface{}) error
}

// Worker turns work items of one language into stored results and completion notices.
type Worker struct {
	language model.Language
	store    DocumentStore
	queue    mq.Queue
	runner   runner.Runner
	now      func() time.Time
}

// NewWorker creates a worker for one language.
func NewWorker(language model.Language, store DocumentStore, queue mq.Queue, r runner.Runner) (*Worker, error) {
	if _, ok := model.ParseLanguage(string(language)); !ok {
		return nil, appErr.New(appErr.LanguageNotSupported).WithMessagef("language %q not supported", language)
	}
	if store == nil || queue == nil || r == nil {
		return nil, fmt.Errorf("store, queue and runner are required")
	}
	return &Worker{
		language: language,
		store:    store,
		queue:    queue,
		runner:   r,
		now:      time.Now,
	}, nil
}

// Topic is the queue topic this worker consumes.
func (w *Worker) Topic() string {
	return model.WorkTopic(w.language)
}

// Handle processes one work item: load payload, execute, store the result,
// publish the notice and only then delete the delivery. A failure before the
// delete leaves the message for redelivery.
func (w *Worker) Handle(ctx context.Context, d *mq.Delivery) error {
	item, key, err := model.DecodeWorkItem(d.Message.Body)
	if err != nil {
		logger.Error(ctx, "drop malformed work item", zap.String("message_id", d.Message.ID), zap.Error(err))
		return w.queue.Delete(ctx, d.Receipt)
	}
	ctx = context.WithValue(ctx, contextkey.Username, key.Username)
	ctx = context.WithValue(ctx, contextkey.Language, string(key.Language))
	if key.Language != w.language {
		logger.Error(ctx, "drop work item for another language", zap.String("submission_key", item.SubmissionKey))
		return w.queue.Delete(ctx, d.Receipt)
	}

	var payload model.Payload
	if err := w.store.GetJSON(ctx, key.RequestObject(), &payload); err != nil {
		if appErr.Is(err, appErr.ObjectNotFound) {
			logger.Error(ctx, "drop work item without payload", zap.String("submission_key", item.SubmissionKey))
			return w.queue.Delete(ctx, d.Receipt)
		}
		return err
	}
	fingerprint := payload.Fingerprint()
	if fingerprint != item.Fingerprint {
		logger.Warn(ctx, "payload changed after enqueue",
			zap.String("submission_key", item.SubmissionKey),
			zap.String("enqueued_fingerprint", item.Fingerprint),
			zap.String("payload_fingerprint", fingerprint),
		)
	}

	res, err := w.runner.Execute(ctx, runner.Request{
		Language:      string(payload.Language),
		Code:          payload.Code,
		Input:         payload.Input,
		TimeLimitSec:  payload.TimeLimit,
		MemoryLimitMB: payload.MemoryLimit,
	})
	if err != nil {
		return err
	}
	notice := model.CompletionNotice{
		SubmissionKey: key.String(),
		Fingerprint:   fingerprint,
		Username:      key.Username,
	}
	if fingerprint != item.Fingerprint {
		notice.QueuedFingerprint = item.Fingerprint
	}
	return w.publish(ctx, d, key, notice, res)
}

func (w *Worker) publish(ctx context.Context, d *mq.Delivery, key model.Key, notice model.CompletionNotice, res result.Result) error {
	res.Fingerprint = notice.Fingerprint
	if err := w.store.PutJSON(ctx, key.ResultObject(), res); err != nil {
		return err
	}

	body, err := notice.Encode()
	if err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "encode completion notice failed")
	}
	if err := w.queue.Enqueue(ctx, model.ResultTopic, key.DedupToken(w.now()), body); err != nil {
		return err
	}
	if err := w.queue.Delete(ctx, d.Receipt); err != nil {
		return err
	}
	logger.Info(ctx, "submission executed",
		zap.String("submission_key", key.String()),
		zap.String("status", string(res.Status)),
		zap.Int("receives", d.Receives),
	)
	return nil
}
