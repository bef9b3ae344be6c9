// Package resilience provides the retry policy and rate limiter that guard outbound provider calls.
package resilience

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// jitterFactor spreads each delay uniformly over [0.75, 1.25] of its nominal value.
const jitterFactor = 0.25

// RetryPolicy describes how a failed operation is retried.
// A policy is a plain value and can be shared by concurrent calls.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// ShouldRetry decides retry eligibility. Nil means DefaultShouldRetry.
	ShouldRetry func(err error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy retries 3 times starting at 1s, doubling up to 30s, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: true}
}

// AggressiveRetryPolicy retries quickly and often.
func AggressiveRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, InitialDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second, Multiplier: 1.5, Jitter: true}
}

// ConservativeRetryPolicy retries rarely with long pauses.
func ConservativeRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, Multiplier: 3, Jitter: true}
}

// NoRetry runs the operation once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
}

// Delay returns the nominal (pre-jitter) sleep before retry number attempt (1-based):
// min(MaxDelay, InitialDelay * Multiplier^(attempt-1)).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.multiplier(), float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p RetryPolicy) multiplier() float64 {
	if p.Multiplier < 1 {
		return 1
	}
	return p.Multiplier
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.multiplier()
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = jitterFactor
	}
	b.MaxElapsedTime = 0
	b.Reset()

	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}

// Execute runs op, retrying eligible failures. The first attempt runs immediately.
// Ineligible errors are returned as-is; exhausted retries return an
// llm retry-exhausted error wrapping the last failure; cancellation during a
// backoff sleep returns the context error.
func (p RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	logger := zerolog.Ctx(ctx)
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, p.newBackOff(ctx), func(err error, delay time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("maxRetries", p.MaxRetries).
			Dur("delay", delay).
			Msg("Retrying after failure")
		if p.OnRetry != nil {
			p.OnRetry(attempts, delay, err)
		}
	})

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		logger.Error().Err(lastErr).Int("attempts", attempts).Msg("Retries exhausted")
		return llm.NewRetryExhaustedError(attempts, lastErr)
	}
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// DefaultShouldRetry retries transport failures and backend statuses 5xx, 429 and 408.
func DefaultShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Type {
		case llm.ErrorTypeRetryExhausted, llm.ErrorTypeRateLimitExhausted, llm.ErrorTypeMalformedChunk:
			return false
		case llm.ErrorTypeNetwork, llm.ErrorTypeTimeout:
			return true
		}
		if llmErr.StatusCode != 0 {
			return llm.RetryableStatus(llmErr.StatusCode)
		}
		if llmErr.ProviderErr != nil && isIOError(llmErr.ProviderErr) {
			return true
		}
		return llmErr.Retryable
	}

	return isIOError(err)
}

func isIOError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
