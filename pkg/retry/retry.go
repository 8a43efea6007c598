// Package retry retries transient failures with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// MaxAttempts includes the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	// InitialDelay is doubled after every failed attempt, up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ShouldRetry classifies errors. When nil, every error is retried.
	ShouldRetry func(err error) bool
	Logger      *zap.Logger
}

var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. The error of the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(error) bool { return true }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !cfg.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Debug("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max", cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
