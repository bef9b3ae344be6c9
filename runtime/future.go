package runtime

import (
	"context"
	"sync"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// Future is the pending result of Runtime.Chat.
type Future struct {
	done chan struct{}
	once sync.Once
	resp *llm.ChatResponse
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve sets the result. Only the first call has any effect.
func (f *Future) resolve(resp *llm.ChatResponse, err error) {
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
	})
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends. Giving up on ctx
// does not cancel the call itself.
func (f *Future) Wait(ctx context.Context) (*llm.ChatResponse, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
