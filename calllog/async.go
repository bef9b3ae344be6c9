package calllog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the queue length used when NewAsyncLogger gets size <= 0.
const DefaultBufferSize = 256

const writeTimeout = 5 * time.Second

type record struct {
	call *CallLog
	tool *ToolCallLog
}

// AsyncLogger writes logs to a Store from a single background goroutine.
// When the queue is full new records are dropped.
type AsyncLogger struct {
	store  Store
	queue  chan record
	done   chan struct{}
	logger zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewAsyncLogger starts the writer goroutine.
func NewAsyncLogger(store Store, bufferSize int, logger zerolog.Logger) *AsyncLogger {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	l := &AsyncLogger{
		store:  store,
		queue:  make(chan record, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "async_call_logger").Logger(),
	}
	go l.run()
	return l
}

// Store returns the underlying store.
func (l *AsyncLogger) Store() Store {
	return l.store
}

// LogCall queues a call record. A missing ID or timestamp is filled in.
func (l *AsyncLogger) LogCall(c *CallLog) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	l.enqueue(record{call: c})
}

// LogToolExecution queues a tool execution record.
func (l *AsyncLogger) LogToolExecution(e *ToolCallLog) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.enqueue(record{tool: e})
}

func (l *AsyncLogger) enqueue(r record) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		l.logger.Warn().Msg("Call logger closed, dropping record")
		return
	}
	select {
	case l.queue <- r:
	default:
		l.dropped.Add(1)
		l.logger.Warn().Int("bufferSize", cap(l.queue)).Msg("Call log buffer full, dropping record")
	}
}

func (l *AsyncLogger) run() {
	defer close(l.done)
	for r := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		if r.call != nil {
			err = l.store.LogCall(ctx, r.call)
		} else {
			err = l.store.LogToolExecution(ctx, r.tool)
		}
		cancel()
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to write call log")
			continue
		}
		l.written.Add(1)
	}
}

// Dropped returns how many records were discarded.
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Written returns how many records reached the store.
func (l *AsyncLogger) Written() int64 {
	return l.written.Load()
}

// Close stops accepting records and waits until the queue is drained or ctx
// ends. It does not close the store. Calling Close more than once is safe.
func (l *AsyncLogger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		l.logger.Debug().Int64("written", l.Written()).Int64("dropped", l.Dropped()).Msg("Call logger drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
