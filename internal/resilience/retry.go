package resilience

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xiaot623/agentmesh/internal/domain"
)

// RetryConfig configures a Retryer.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first call included.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Factor is the exponential growth factor between retries.
	Factor float64

	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration

	// AttemptTimeout bounds each individual attempt. Zero disables it.
	AttemptTimeout time.Duration
}

// Retryer retries failed operations with jittered exponential backoff.
// Errors are classified before the delay is computed: authentication and
// client-class errors fail immediately, rate-limit errors honor the delay
// the error indicates, everything else follows the exponential schedule.
type Retryer struct {
	cfg RetryConfig
}

// NewRetryer creates a Retryer, applying defaults for unset fields.
func NewRetryer(cfg RetryConfig) *Retryer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = cfg.BaseDelay * 10
	}
	return &Retryer{cfg: cfg}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. Exhaustion surfaces the last error.
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = r.cfg.BaseDelay
	schedule.Multiplier = r.cfg.Factor
	schedule.MaxInterval = r.cfg.MaxInterval
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = r.attempt(ctx, op)
		if lastErr == nil {
			return nil
		}

		if domain.IsAuthError(lastErr) || domain.IsClientError(lastErr) {
			return lastErr
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := schedule.NextBackOff()
		if retryAfter, ok := domain.IsRateLimitError(lastErr); ok {
			// The server-indicated delay wins over the exponential
			// schedule; fall back to base*attempt when unspecified.
			delay = retryAfter
			if delay <= 0 {
				delay = r.cfg.BaseDelay * time.Duration(attempt)
			}
		}

		log.Printf("WARN: retrying after error (attempt %d/%d, delay %s): %v",
			attempt, r.cfg.MaxAttempts, delay, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (r *Retryer) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if r.cfg.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}
