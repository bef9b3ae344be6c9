// Package sse decodes OpenAI-compatible server-sent event streams into llm.StreamChunk values.
//
// The wire format is a sequence of "data: <json>" lines separated by blank
// lines and terminated by "data: [DONE]". The decoder can be consumed in push
// mode (Decode with an llm.ChunkObserver) or pull mode (Stream). Both modes
// share one scan loop and deliver exactly one terminal signal.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	defaultBuffer  = 16
	maxLineSize    = 1024 * 1024
	initialLineBuf = 64 * 1024
)

// Decoder turns a raw event stream into ordered chunks.
type Decoder struct {
	logger      zerolog.Logger
	buffer      int
	onMalformed func(err error)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithBuffer sets the channel capacity used in pull mode.
func WithBuffer(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// WithMalformedHook is called for every skipped payload.
func WithMalformedHook(fn func(err error)) Option {
	return func(d *Decoder) {
		d.onMalformed = fn
	}
}

// NewDecoder creates a decoder that logs skipped payloads to logger.
func NewDecoder(logger zerolog.Logger, opts ...Option) *Decoder {
	d := &Decoder{
		logger: logger.With().Str("component", "sse_decoder").Logger(),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode reads r until the sentinel, EOF or an error and pushes chunks to obs.
// obs.OnComplete or obs.OnError is called exactly once; the error, if any, is also returned.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, obs llm.ChunkObserver) error {
	err := d.scan(ctx, r, func(chunk llm.StreamChunk) error {
		obs.OnChunk(chunk)
		return nil
	})
	if err != nil {
		obs.OnError(err)
		return err
	}
	obs.OnComplete()
	return nil
}

// scan runs the line state machine. It returns nil on the sentinel or a clean EOF.
func (d *Decoder) scan(ctx context.Context, r io.Reader, emit func(llm.StreamChunk) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuf), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			// event:, id: and retry: fields carry nothing we use
			continue
		}

		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == doneSentinel {
			d.logger.Debug().Msg("Stream completed")
			return nil
		}

		chunk, err := ParseChunk(payload)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Skipping malformed stream chunk")
			if d.onMalformed != nil {
				d.onMalformed(err)
			}
			continue
		}
		if chunk.Empty() {
			continue
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return llm.NewNetworkError("stream read failed", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Debug().Msg("Stream ended without sentinel")
	return nil
}

// ParseChunk decodes one JSON payload into a chunk. Only the first choice is used.
func ParseChunk(payload string) (llm.StreamChunk, error) {
	var frame openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return llm.StreamChunk{}, llm.NewMalformedChunkError(payload, err)
	}

	chunk := llm.StreamChunk{ID: frame.ID, Model: frame.Model}
	if len(frame.Choices) == 0 {
		return chunk, nil
	}
	choice := frame.Choices[0]
	chunk.Index = choice.Index
	chunk.Content = choice.Delta.Content
	chunk.Role = choice.Delta.Role
	chunk.FinishReason = string(choice.FinishReason)
	if fc := choice.Delta.FunctionCall; fc != nil && (fc.Name != "" || fc.Arguments != "") {
		chunk.FunctionCall = &llm.FunctionCall{Name: fc.Name, Arguments: fc.Arguments}
	}
	return chunk, nil
}

// Stream is the pull-mode view of a decode. It is single use: once Next
// returns false the stream is finished and Err reports how.
type Stream struct {
	chunks  chan llm.StreamChunk
	cancel  context.CancelFunc
	closer  io.Closer
	current llm.StreamChunk
	err     error
	once    sync.Once
}

// Stream starts decoding r in the background. If r is an io.Closer it is closed by Close.
func (d *Decoder) Stream(ctx context.Context, r io.Reader) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		chunks: make(chan llm.StreamChunk, d.buffer),
		cancel: cancel,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}

	go func() {
		defer close(s.chunks)
		s.err = d.scan(ctx, r, func(chunk llm.StreamChunk) error {
			select {
			case s.chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

// Next advances to the next chunk. It returns false once the stream has terminated.
func (s *Stream) Next() bool {
	chunk, ok := <-s.chunks
	if !ok {
		return false
	}
	s.current = chunk
	return true
}

// Chunk returns the current chunk. Only valid after Next returned true.
func (s *Stream) Chunk() llm.StreamChunk {
	return s.current
}

// Chunks exposes the underlying channel. It is closed when the stream terminates.
// Use either Chunks or Next, not both.
func (s *Stream) Chunks() <-chan llm.StreamChunk {
	return s.chunks
}

// Err returns the terminal error after the stream finished, or nil on completion.
func (s *Stream) Err() error {
	return s.err
}

// Close stops decoding and releases the reader. Closing before the end
// terminates the stream with context.Canceled.
func (s *Stream) Close() error {
	var closeErr error
	s.once.Do(func() {
		s.cancel()
		if s.closer != nil {
			closeErr = s.closer.Close()
		}
		for range s.chunks {
		}
	})
	if errors.Is(closeErr, io.ErrClosedPipe) {
		return nil
	}
	return closeErr
}
