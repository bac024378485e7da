package service

import (
	"context"
	"time"

	"rexe/internal/execute/sandbox/result"
	appErr "rexe/pkg/errors"
	"rexe/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultWatchInterval = time.Second

// CheckInput identifies the poll target and carries the raw cookie value.
type CheckInput struct {
	Username string
	Filename string
	Language string
	// Cookie is the fingerprint cookie value; empty when the client sent none.
	Cookie string
}

// Check answers a poll. Without a valid cookie there is nothing left to wait
// for and the answer is stop. A completion record for the cookie's fingerprint
// yields the stored result; a result overwritten by a newer version yields stop.
func (s *SubmitService) Check(ctx context.Context, input CheckInput) (result.Result, error) {
	key, err := s.parseKey(input.Username, input.Filename, input.Language)
	if err != nil {
		return result.Result{}, err
	}
	if input.Cookie == "" {
		return result.Stop(), nil
	}
	fingerprint, err := s.cookies.Verify(key, input.Cookie)
	if err != nil {
		logger.Debug(ctx, "fingerprint cookie rejected", zap.String("submission_key", key.String()), zap.Error(err))
		return result.Stop(), nil
	}

	res, state, err := s.lookupCompletion(ctx, key, fingerprint)
	if err != nil {
		return result.Result{}, err
	}
	switch state {
	case completionReady:
		return res, nil
	case completionSuperseded:
		return result.Stop(), nil
	default:
		return result.Pending(), nil
	}
}

// Watch polls Check every interval until it yields a terminal answer or ctx ends.
func (s *SubmitService) Watch(ctx context.Context, input CheckInput, interval time.Duration) (result.Result, error) {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := s.Check(ctx, input)
		if err != nil {
			if appErr.GetCode(err).HTTPStatus() < 500 {
				return result.Result{}, err
			}
			logger.Warn(ctx, "watch poll failed", zap.Error(err))
		} else if res.Status != result.StatusPending {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return result.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
