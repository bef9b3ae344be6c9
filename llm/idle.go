package llm

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// IdleTimer cancels a context when no progress is reported within a timeout.
// Streams use it to bound the gap between chunks rather than the whole call.
type IdleTimer struct {
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

// WithIdleTimeout derives a context that is cancelled once timeout passes
// without a call to Touch. The returned cancel func stops the timer.
func WithIdleTimeout(parent context.Context, timeout time.Duration) (context.Context, *IdleTimer, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	t := &IdleTimer{timeout: timeout}
	t.timer = time.AfterFunc(timeout, func() {
		t.expired.Store(true)
		cancel()
	})
	return ctx, t, func() {
		t.timer.Stop()
		cancel()
	}
}

// Touch records progress and restarts the countdown.
func (t *IdleTimer) Touch() {
	if !t.expired.Load() {
		t.timer.Reset(t.timeout)
	}
}

// Expired reports whether the timer fired.
func (t *IdleTimer) Expired() bool {
	return t.expired.Load()
}

// Err maps a failure caused by the timer firing to a retryable network
// error. Other errors are returned unchanged.
func (t *IdleTimer) Err(err error, what string) error {
	if err == nil || !t.Expired() {
		return err
	}
	return NewNetworkError(what+" stalled: no data for "+t.timeout.String(), context.DeadlineExceeded)
}

// Reader wraps r so that every successful read touches the timer.
func (t *IdleTimer) Reader(r io.Reader) io.Reader {
	return idleReader{r: r, t: t}
}

type idleReader struct {
	r io.Reader
	t *IdleTimer
}

func (ir idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.t.Touch()
	}
	return n, err
}
