package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// TokenBucket holds up to capacity permits and regains one per refill interval.
// All methods are safe for concurrent use; available never leaves [0, capacity].
type TokenBucket struct {
	mu             sync.Mutex
	capacity       int
	refillInterval time.Duration
	available      int
	lastRefill     time.Time
	now            func() time.Time
}

func newTokenBucket(capacity int, interval time.Duration, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:       capacity,
		refillInterval: interval,
		available:      capacity,
		lastRefill:     now(),
		now:            now,
	}
}

// refill adds one token per whole elapsed interval. Caller holds mu.
func (b *TokenBucket) refill() {
	if b.refillInterval <= 0 {
		b.available = b.capacity
		return
	}
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.refillInterval {
		return
	}
	intervals := int64(elapsed / b.refillInterval)
	if b.available >= b.capacity {
		b.lastRefill = now
		return
	}
	add := b.capacity - b.available
	if intervals < int64(add) {
		add = int(intervals)
	}
	b.available += add
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.refillInterval)
}

// TryTake refills and takes n tokens if available.
func (b *TokenBucket) TryTake(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if n > b.available {
		return false
	}
	b.available -= n
	return true
}

// Available refills and returns the current token count.
func (b *TokenBucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.available
}

// Capacity returns the bucket capacity.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

type limit struct {
	capacity int
	interval time.Duration
}

// RateLimiter keeps one TokenBucket per key, created lazily at full capacity.
// Buckets live in a sync.Map and each has its own lock, so keys never contend.
type RateLimiter struct {
	defaults limit
	limits   sync.Map // key -> limit
	buckets  sync.Map // key -> *TokenBucket
	logger   zerolog.Logger
	now      func() time.Time

	// OnWait is called after a blocking acquire that had to wait.
	OnWait func(key string, waited time.Duration, granted bool)
}

// NewRateLimiter creates a limiter whose buckets hold capacity tokens and regain one per interval.
func NewRateLimiter(capacity int, interval time.Duration, logger zerolog.Logger) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		defaults: limit{capacity: capacity, interval: interval},
		logger:   logger.With().Str("component", "rate_limiter").Logger(),
		now:      time.Now,
	}
}

// ForOpenAI allows 10 requests per minute.
func ForOpenAI(logger zerolog.Logger) *RateLimiter {
	return NewRateLimiter(10, 6*time.Second, logger)
}

// ForAnthropic allows 5 requests per minute.
func ForAnthropic(logger zerolog.Logger) *RateLimiter {
	return NewRateLimiter(5, 12*time.Second, logger)
}

// ForOllama allows 1000 requests per second; local models are effectively unthrottled.
func ForOllama(logger zerolog.Logger) *RateLimiter {
	return NewRateLimiter(1000, time.Millisecond, logger)
}

// SetLimit overrides capacity and interval for one key. It takes effect on the
// next bucket creation, so callers usually follow it with Reset(key).
func (l *RateLimiter) SetLimit(key string, capacity int, interval time.Duration) {
	if capacity < 1 {
		capacity = 1
	}
	l.limits.Store(key, limit{capacity: capacity, interval: interval})
}

func (l *RateLimiter) limitFor(key string) limit {
	if v, ok := l.limits.Load(key); ok {
		return v.(limit)
	}
	return l.defaults
}

func (l *RateLimiter) bucket(key string) *TokenBucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*TokenBucket)
	}
	lim := l.limitFor(key)
	v, loaded := l.buckets.LoadOrStore(key, newTokenBucket(lim.capacity, lim.interval, l.now))
	if !loaded {
		l.logger.Debug().Str("key", key).Int("capacity", lim.capacity).Dur("refillInterval", lim.interval).Msg("Created token bucket")
	}
	return v.(*TokenBucket)
}

// TryAcquire takes n tokens for key without blocking.
func (l *RateLimiter) TryAcquire(key string, n int) bool {
	if n <= 0 {
		return true
	}
	return l.bucket(key).TryTake(n)
}

// Acquire takes n tokens for key. When none are available it waits one refill
// interval and tries once more; if that also fails it returns a rate-limit
// exhausted error. Context cancellation during the wait returns the context error.
func (l *RateLimiter) Acquire(ctx context.Context, key string, n int) error {
	if n <= 0 {
		return nil
	}
	b := l.bucket(key)
	if n > b.Capacity() {
		return fmt.Errorf("rate limit for %q: requested %d tokens exceeds capacity %d", key, n, b.Capacity())
	}
	if b.TryTake(n) {
		return nil
	}

	wait := l.limitFor(key).interval
	l.logger.Debug().Str("key", key).Int("tokens", n).Dur("wait", wait).Msg("Rate limited, waiting for refill")

	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.notifyWait(key, time.Since(start), false)
		return ctx.Err()
	case <-timer.C:
	}

	granted := b.TryTake(n)
	l.notifyWait(key, time.Since(start), granted)
	if !granted {
		l.logger.Warn().Str("key", key).Int("tokens", n).Msg("Rate limit wait exhausted")
		return llm.NewRateLimitExhaustedError(key, n)
	}
	return nil
}

func (l *RateLimiter) notifyWait(key string, waited time.Duration, granted bool) {
	if l.OnWait != nil {
		l.OnWait(key, waited, granted)
	}
}

// Available returns the tokens currently available for key.
func (l *RateLimiter) Available(key string) int {
	return l.bucket(key).Available()
}

// Reset discards the bucket for key; the next acquire starts at full capacity.
func (l *RateLimiter) Reset(key string) {
	l.buckets.Delete(key)
}

// ResetAll discards every bucket.
func (l *RateLimiter) ResetAll() {
	l.buckets.Range(func(k, _ any) bool {
		l.buckets.Delete(k)
		return true
	})
}
