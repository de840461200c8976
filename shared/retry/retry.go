// Package retry wraps arbitrary operations with bounded exponential-backoff
// retry. The policy is operation-agnostic so callers can compose it: the
// saga orchestrator wraps both individual command publishes and whole steps.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// Operation is a retryable unit of work
type Operation func(ctx context.Context) error

// ExhaustedError is returned when every attempt has failed. It wraps the
// last underlying error together with the operation label.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err is a retry exhaustion
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Policy retries operations with deterministic exponential backoff, no
// jitter. Delay before attempt n (n>=2) is min(BaseDelay*2^(n-2), MaxDelay).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a retry policy. Zero values fall back to the defaults.
func New(maxAttempts int, baseDelay, maxDelay time.Duration, logger *zap.Logger) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// Default returns a policy with the default bounds
func Default(logger *zap.Logger) *Policy {
	return New(DefaultMaxAttempts, DefaultBaseDelay, DefaultMaxDelay, logger)
}

// Execute invokes op up to MaxAttempts times, waiting between attempts.
// The backoff wait is a suspension point: context cancellation during the
// wait aborts the remaining attempts.
func (p *Policy) Execute(ctx context.Context, label string, op Operation) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.delay(attempt)
			p.logger.Debug("retrying",
				zap.String("operation", label),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		if err := op(ctx); err != nil {
			lastErr = err
			p.logger.Warn("attempt failed",
				zap.String("operation", label),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Error(err))
			continue
		}
		return nil
	}

	p.logger.Error("retries exhausted",
		zap.String("operation", label),
		zap.Int("attempts", p.MaxAttempts),
		zap.Error(lastErr))

	return &ExhaustedError{Label: label, Attempts: p.MaxAttempts, Err: lastErr}
}

// delay computes the wait before the given attempt (attempt >= 2)
func (p *Policy) delay(attempt int) time.Duration {
	delay := p.BaseDelay << (attempt - 2)
	if delay > p.MaxDelay || delay <= 0 {
		return p.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
