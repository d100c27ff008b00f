// Package retry runs flaky operations under a bounded exponential backoff.
//
//	p := retry.Default()
//	body, err := retry.DoValue(ctx, p, func(ctx context.Context) ([]byte, error) {
//	    return fetch(ctx, url)
//	})
//	if errors.Is(err, retry.ErrFinalFailure) {
//	    // every attempt failed
//	}
//
// A Policy holds no state between calls; each Do owns its attempt counter.
package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
)

// ErrFinalFailure marks the error returned once every attempt has failed.
// errors.Is matches both this mark and the last underlying error.
var ErrFinalFailure = errors.New("final failure")

// Defaults
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultFactor      = 2.0
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	// MaxAttempts is the number of retries after the first call, so an
	// operation runs at most MaxAttempts+1 times.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 = uncapped
	Factor      float64

	// Retryable decides whether a failure is worth another attempt.
	// Nil uses IsRetryable.
	Retryable func(error) bool

	// Name labels log lines, usually the operation being retried.
	Name   string
	Logger *zap.SugaredLogger
}

// Default returns the stock policy: 5 retries, 1s doubling up to 60s.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Factor:      DefaultFactor,
	}
}

// Named returns a copy of p that labels its log lines with name.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// WithLogger returns a copy of p logging to log.
func (p Policy) WithLogger(log *zap.SugaredLogger) Policy {
	p.Logger = log
	return p
}

// Delay returns the wait after the given zero-based failed attempt:
// min(BaseDelay * Factor^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 0)) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do calls op until it succeeds, fails with a non-retryable error, or runs
// out of attempts. Waits happen on the calling goroutine and end early when
// ctx is cancelled.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	log := p.Logger
	if log == nil {
		log = logger.Logger
	}
	name := p.Name
	if name == "" {
		name = "operation"
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				log.Debugw("Retry succeeded",
					logger.FieldOperation, name,
					logger.FieldAttempt, attempt+1)
			}
			return nil
		}
		lastErr = err

		if !retryable(err) {
			log.Errorw("Operation failed with non-retryable error",
				logger.FieldOperation, name,
				logger.FieldAttempt, attempt+1,
				logger.FieldError, err)
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		log.Warnw("Attempt failed, retrying",
			logger.FieldOperation, name,
			logger.FieldAttempt, attempt+1,
			logger.FieldDelay, delay.String(),
			logger.FieldError, err)

		if err := sleep(ctx, delay); err != nil {
			return errors.WithSecondaryError(
				errors.Wrapf(err, "%s: retry abandoned after attempt %d: %v", name, attempt+1, lastErr),
				lastErr)
		}
	}

	log.Errorw("Final failure",
		logger.FieldOperation, name,
		"retries", p.MaxAttempts,
		logger.FieldError, lastErr)
	return errors.Mark(lastErr, ErrFinalFailure)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
