package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleTimer_FiresWithoutProgress(t *testing.T) {
	ctx, idle, cancel := WithIdleTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("idle context was not cancelled")
	}
	assert.True(t, idle.Expired())

	err := idle.Err(context.Canceled, "stream")
	assert.True(t, IsRetryableError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIdleTimer_TouchKeepsAlive(t *testing.T) {
	ctx, idle, cancel := WithIdleTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := idle.Reader(strings.NewReader("abc"))
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		idle.Touch()
	}
	buf := make([]byte, 1)
	_, _ = r.Read(buf)
	assert.NoError(t, ctx.Err())
	assert.False(t, idle.Expired())

	other := errors.New("boom")
	assert.Equal(t, other, idle.Err(other, "stream"))
}

func TestIdleTimer_CancelStopsTimer(t *testing.T) {
	ctx, idle, cancel := WithIdleTimeout(context.Background(), 20*time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, idle.Expired())
}
