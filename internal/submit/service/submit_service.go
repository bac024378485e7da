// Package service implements the gateway side of the submission pipeline.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rexe/internal/common/mq"
	"rexe/internal/execute/sandbox/result"
	"rexe/internal/submission/model"
	"rexe/internal/submit/repository"
	appErr "rexe/pkg/errors"
	"rexe/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes = 64 * 1024
	defaultRetention    = time.Hour
)

// DocumentStore reads and writes JSON documents in the object store.
type DocumentStore interface {
	GetJSON(ctx context.Context, key string, value interface{}) error
	PutJSON(ctx context.Context, key string, value interface{}) error
}

// LimitConfig bounds the resource limits a client may request.
type LimitConfig struct {
	DefaultTimeSec  int64 `yaml:"defaultTimeSec"`
	MinTimeSec      int64 `yaml:"minTimeSec"`
	MaxTimeSec      int64 `yaml:"maxTimeSec"`
	DefaultMemoryMB int64 `yaml:"defaultMemoryMB"`
	MinMemoryMB     int64 `yaml:"minMemoryMB"`
	MaxMemoryMB     int64 `yaml:"maxMemoryMB"`
}

// DefaultLimitConfig returns the stock limit bounds.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		DefaultTimeSec:  2,
		MinTimeSec:      1,
		MaxTimeSec:      10,
		DefaultMemoryMB: 64,
		MinMemoryMB:     16,
		MaxMemoryMB:     512,
	}
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	Store       DocumentStore
	Completions repository.CompletionRepository
	Lock        repository.InflightLock
	Queue       mq.Queue
	Cookies     *CookieSigner

	Limits       LimitConfig
	MaxCodeBytes int
	// Retention is the queue retention window; it bounds the in-flight lock.
	Retention time.Duration
	Timeouts  TimeoutConfig
}

// SubmitService accepts, stores and answers polls for submissions.
type SubmitService struct {
	store       DocumentStore
	completions repository.CompletionRepository
	lock        repository.InflightLock
	queue       mq.Queue
	cookies     *CookieSigner

	limits       LimitConfig
	maxCodeBytes int
	retention    time.Duration
	timeouts     TimeoutConfig
	now          func() time.Time
}

// SubmitInput describes a submission request. Zero limits select the defaults.
type SubmitInput struct {
	Username    string
	Filename    string
	Language    string
	Code        string
	Input       string
	TimeLimit   int64
	MemoryLimit int64
}

// SubmitOutput is what the gateway tells the client after /run.
type SubmitOutput struct {
	Key         model.Key
	Fingerprint string
	// Enqueued is false when an identical completed execution was reused.
	Enqueued bool
	Cookie   Cookie
	Status   result.Result
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.Completions == nil {
		return nil, fmt.Errorf("completion repository is required")
	}
	if cfg.Lock == nil {
		return nil, fmt.Errorf("in-flight lock is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if cfg.Cookies == nil {
		return nil, fmt.Errorf("cookie signer is required")
	}
	if cfg.Limits == (LimitConfig{}) {
		cfg.Limits = DefaultLimitConfig()
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &SubmitService{
		store:        cfg.Store,
		completions:  cfg.Completions,
		lock:         cfg.Lock,
		queue:        cfg.Queue,
		cookies:      cfg.Cookies,
		limits:       cfg.Limits,
		maxCodeBytes: cfg.MaxCodeBytes,
		retention:    cfg.Retention,
		timeouts:     cfg.Timeouts,
		now:          time.Now,
	}, nil
}

// Submit validates the input and stores the payload. Unless an identical
// execution already finished, it then enqueues the work item and takes the lock.
// The client is always answered with pending plus a fingerprint cookie.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (SubmitOutput, error) {
	payload, key, err := s.accept(ctx, input)
	if err != nil {
		return SubmitOutput{}, err
	}
	fingerprint := payload.Fingerprint()

	_, state, err := s.lookupCompletion(ctx, key, fingerprint)
	if err != nil {
		return SubmitOutput{}, err
	}
	done := state == completionReady
	if err := s.putPayload(ctx, key, payload); err != nil {
		return SubmitOutput{}, err
	}
	if !done {
		if err := s.enqueue(ctx, key, payload, fingerprint); err != nil {
			return SubmitOutput{}, err
		}
	} else {
		logger.Info(ctx, "identical submission already completed", zap.String("submission_key", key.String()))
	}

	cookie, err := s.cookies.Sign(key, fingerprint)
	if err != nil {
		return SubmitOutput{}, err
	}
	return SubmitOutput{
		Key:         key,
		Fingerprint: fingerprint,
		Enqueued:    !done,
		Cookie:      cookie,
		Status:      result.Pending(),
	}, nil
}

// Save overwrites the stored payload without executing it.
func (s *SubmitService) Save(ctx context.Context, input SubmitInput) (model.Payload, error) {
	payload, key, err := s.accept(ctx, input)
	if err != nil {
		return model.Payload{}, err
	}
	if err := s.putPayload(ctx, key, payload); err != nil {
		return model.Payload{}, err
	}
	return payload, nil
}

// Load returns the stored payload for one submission key.
func (s *SubmitService) Load(ctx context.Context, username, filename, language string) (model.Payload, error) {
	key, err := s.parseKey(username, filename, language)
	if err != nil {
		return model.Payload{}, err
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	var payload model.Payload
	if err := s.store.GetJSON(ctxStorage.ctx, key.RequestObject(), &payload); err != nil {
		if appErr.Is(err, appErr.ObjectNotFound) {
			return model.Payload{}, appErr.New(appErr.SubmissionNotFound).WithMessage("no saved code for this file")
		}
		return model.Payload{}, err
	}
	return payload, nil
}

// accept runs the ordered admission checks and builds the payload.
func (s *SubmitService) accept(ctx context.Context, input SubmitInput) (model.Payload, model.Key, error) {
	if input.Code == "" {
		return model.Payload{}, model.Key{}, appErr.ValidationError("code", "required")
	}
	if strings.TrimSpace(input.Filename) == "" {
		return model.Payload{}, model.Key{}, appErr.ValidationError("filename", "required")
	}
	if len(input.Filename) > model.MaxFilenameLen {
		return model.Payload{}, model.Key{}, appErr.ValidationError("filename", fmt.Sprintf("at most %d bytes", model.MaxFilenameLen))
	}
	if !model.ValidFilename(input.Filename) {
		return model.Payload{}, model.Key{}, appErr.ValidationError("filename", "invalid")
	}
	if !model.ValidUsername(input.Username) {
		return model.Payload{}, model.Key{}, appErr.UnauthorizedError("invalid user")
	}
	if len(input.Code) > s.maxCodeBytes {
		return model.Payload{}, model.Key{}, appErr.New(appErr.CodeTooLarge).WithMessagef("code exceeds %d bytes", s.maxCodeBytes)
	}
	lang, ok := model.ParseLanguage(input.Language)
	if !ok {
		return model.Payload{}, model.Key{}, appErr.New(appErr.LanguageNotSupported).WithMessagef("language %q not supported", input.Language)
	}

	payload := model.Payload{
		Code:        input.Code,
		Input:       input.Input,
		Filename:    input.Filename,
		Language:    lang,
		TimeLimit:   input.TimeLimit,
		MemoryLimit: input.MemoryLimit,
	}
	key := model.NewKey(input.Username, payload)

	if err := s.checkLock(ctx, key); err != nil {
		return model.Payload{}, model.Key{}, err
	}

	if payload.TimeLimit == 0 {
		payload.TimeLimit = s.limits.DefaultTimeSec
	}
	if payload.MemoryLimit == 0 {
		payload.MemoryLimit = s.limits.DefaultMemoryMB
	}
	if payload.TimeLimit < s.limits.MinTimeSec || payload.TimeLimit > s.limits.MaxTimeSec {
		return model.Payload{}, model.Key{}, appErr.OutOfRange("time_limit", s.limits.MinTimeSec, s.limits.MaxTimeSec, "seconds")
	}
	if payload.MemoryLimit < s.limits.MinMemoryMB || payload.MemoryLimit > s.limits.MaxMemoryMB {
		return model.Payload{}, model.Key{}, appErr.OutOfRange("memory_limit", s.limits.MinMemoryMB, s.limits.MaxMemoryMB, "MB")
	}
	return payload, key, nil
}

func (s *SubmitService) checkLock(ctx context.Context, key model.Key) error {
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	holder, err := s.lock.Holder(ctxCache.ctx, key)
	if err != nil {
		return err
	}
	if holder != "" {
		return appErr.New(appErr.SubmissionInFlight).WithMessage("still processing, try again later")
	}
	return nil
}

func (s *SubmitService) enqueue(ctx context.Context, key model.Key, payload model.Payload, fingerprint string) error {
	body, err := model.WorkItem{
		SubmissionKey: key.String(),
		Fingerprint:   fingerprint,
		Username:      key.Username,
	}.Encode()
	if err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "encode work item failed")
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.queue.Enqueue(ctxMQ.ctx, model.WorkTopic(payload.Language), key.DedupToken(s.now()), body); err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "enqueue submission failed")
	}

	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	acquired, err := s.lock.Acquire(ctxCache.ctx, key, fingerprint, s.retention)
	if err != nil {
		// The work item is already queued; the ingestor tolerates a missing lock.
		logger.Warn(ctx, "set in-flight lock failed", zap.String("submission_key", key.String()), zap.Error(err))
		return nil
	}
	if !acquired {
		// Another request passed checkLock at the same time and holds the lock
		// with its own fingerprint. The worker reports that queued fingerprint
		// alongside the executed one so the ingestor can still clear it.
		logger.Warn(ctx, "in-flight lock taken concurrently", zap.String("submission_key", key.String()))
	}
	return nil
}

func (s *SubmitService) putPayload(ctx context.Context, key model.Key, payload model.Payload) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.store.PutJSON(ctxStorage.ctx, key.RequestObject(), payload); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "store payload failed")
	}
	return nil
}

type completionState int

const (
	completionMissing completionState = iota
	// completionSuperseded means a record exists but the result object now
	// belongs to a newer version of the submission.
	completionSuperseded
	completionReady
)

// lookupCompletion resolves the completion state of fingerprint and, when ready,
// the stored result.
func (s *SubmitService) lookupCompletion(ctx context.Context, key model.Key, fingerprint string) (result.Result, completionState, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	exists, err := s.completions.Exists(ctxDB.ctx, key.Username, key.String(), fingerprint)
	if err != nil {
		return result.Result{}, completionMissing, err
	}
	if !exists {
		return result.Result{}, completionMissing, nil
	}

	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	var res result.Result
	if err := s.store.GetJSON(ctxStorage.ctx, key.ResultObject(), &res); err != nil {
		if appErr.Is(err, appErr.ObjectNotFound) {
			return result.Result{}, completionSuperseded, nil
		}
		return result.Result{}, completionMissing, err
	}
	if res.Fingerprint != fingerprint {
		return result.Result{}, completionSuperseded, nil
	}
	return res, completionReady, nil
}

func (s *SubmitService) parseKey(username, filename, language string) (model.Key, error) {
	if !model.ValidUsername(username) {
		return model.Key{}, appErr.UnauthorizedError("invalid user")
	}
	if !model.ValidFilename(filename) {
		return model.Key{}, appErr.ValidationError("filename", "invalid")
	}
	lang, ok := model.ParseLanguage(language)
	if !ok {
		return model.Key{}, appErr.New(appErr.LanguageNotSupported).WithMessagef("language %q not supported", language)
	}
	return model.Key{Username: username, Filename: filename, Language: lang}, nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
