package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_TwoImmediateThenBlocksForInterval(t *testing.T) {
	limiter := NewRateLimiter(2, time.Second, zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Acquire(ctx, "openai", 1))
	require.NoError(t, limiter.Acquire(ctx, "openai", 1))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, limiter.TryAcquire("openai", 1))

	require.NoError(t, limiter.Acquire(ctx, "openai", 1))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestRateLimiter_WaitExhausted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	limiter := NewRateLimiter(1, 10*time.Millisecond, zerolog.Nop())
	limiter.now = clock.Now // frozen clock: no refill ever happens

	require.True(t, limiter.TryAcquire("k", 1))
	err := limiter.Acquire(context.Background(), "k", 1)
	assert.True(t, llm.IsRateLimitExhaustedError(err))
}

func TestRateLimiter_AcquireCancelled(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute, zerolog.Nop())
	require.True(t, limiter.TryAcquire("k", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx, "k", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_RefillCappedAtCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	limiter := NewRateLimiter(3, time.Second, zerolog.Nop())
	limiter.now = clock.Now

	require.True(t, limiter.TryAcquire("k", 3))
	assert.Equal(t, 0, limiter.Available("k"))

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1, limiter.Available("k"))

	// the half interval left over is kept
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 2, limiter.Available("k"))

	clock.Advance(time.Hour)
	assert.Equal(t, 3, limiter.Available("k"))
}

func TestRateLimiter_AvailableStaysInBounds(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	limiter := NewRateLimiter(5, 100*time.Millisecond, zerolog.Nop())
	limiter.now = clock.Now

	for i := 0; i < 200; i++ {
		switch i % 3 {
		case 0:
			limiter.TryAcquire("k", i%4+1)
		case 1:
			clock.Advance(time.Duration(i%7) * 50 * time.Millisecond)
		default:
			limiter.TryAcquire("k", 1)
		}
		avail := limiter.Available("k")
		require.GreaterOrEqual(t, avail, 0)
		require.LessOrEqual(t, avail, 5)
	}
}

func TestRateLimiter_ConcurrentAcquireNeverOverdraws(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	limiter := NewRateLimiter(10, time.Hour, zerolog.Nop())
	limiter.now = clock.Now

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.TryAcquire("shared", 1) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Equal(t, 0, limiter.Available("shared"))
}

func TestRateLimiter_ResetRestoresCapacity(t *testing.T) {
	limiter := NewRateLimiter(2, time.Hour, zerolog.Nop())
	require.True(t, limiter.TryAcquire("a", 2))
	require.True(t, limiter.TryAcquire("b", 2))

	limiter.Reset("a")
	assert.Equal(t, 2, limiter.Available("a"))
	assert.Equal(t, 0, limiter.Available("b"))

	limiter.ResetAll()
	assert.Equal(t, 2, limiter.Available("b"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(1, time.Hour, zerolog.Nop())
	limiter.SetLimit("ollama", 3, time.Hour)

	assert.True(t, limiter.TryAcquire("openai", 1))
	assert.False(t, limiter.TryAcquire("openai", 1))
	assert.True(t, limiter.TryAcquire("ollama", 3))
	assert.Error(t, limiter.Acquire(context.Background(), "openai", 2), "request above capacity can never succeed")
}
