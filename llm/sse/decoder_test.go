package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

type recorder struct {
	chunks    []llm.StreamChunk
	completes int
	errs      []error
}

func (r *recorder) OnChunk(c llm.StreamChunk) { r.chunks = append(r.chunks, c) }
func (r *recorder) OnComplete()               { r.completes++ }
func (r *recorder) OnError(err error)         { r.errs = append(r.errs, err) }

func (r *recorder) terminals() int { return r.completes + len(r.errs) }

func TestDecode_SingleChunkThenDone(t *testing.T) {
	payload := "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"Hi\"},\"index\":0}]}\n\ndata: [DONE]\n\n"

	rec := &recorder{}
	err := NewDecoder(zerolog.Nop()).Decode(context.Background(), strings.NewReader(payload), rec)
	require.NoError(t, err)

	require.Len(t, rec.chunks, 1)
	assert.Equal(t, "x", rec.chunks[0].ID)
	assert.Equal(t, "Hi", rec.chunks[0].Content)
	assert.Equal(t, 1, rec.completes)
	assert.Empty(t, rec.errs)
}

func TestDecode_OrderAndFiltering(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"id":"1","choices":[{"delta":{"role":"assistant"},"index":0}]}`,
		``,
		`: keep-alive comment`,
		`data: {"id":"1","choices":[{"delta":{},"index":0}]}`,
		``,
		`data: {"id":"1","choices":[{"delta":{"content":"Hel"},"index":0}]}`,
		`data: {not json`,
		``,
		`   data: {"id":"1","choices":[{"delta":{"content":"lo"},"index":0}]}   `,
		`data: {"id":"1","choices":[{"delta":{},"index":0,"finish_reason":"stop"}]}`,
		`data: [DONE]`,
		`data: {"id":"1","choices":[{"delta":{"content":"after done"},"index":0}]}`,
	}, "\n")

	var malformed int
	rec := &recorder{}
	d := NewDecoder(zerolog.Nop(), WithMalformedHook(func(err error) {
		malformed++
		assert.True(t, llm.IsMalformedChunkError(err))
	}))
	require.NoError(t, d.Decode(context.Background(), strings.NewReader(payload), rec))

	require.Len(t, rec.chunks, 4)
	assert.Equal(t, "assistant", rec.chunks[0].Role)
	assert.Equal(t, "Hel", rec.chunks[1].Content)
	assert.Equal(t, "lo", rec.chunks[2].Content)
	assert.True(t, rec.chunks[3].IsLast())
	assert.Equal(t, 1, malformed)
	assert.Equal(t, 1, rec.terminals())
}

func TestDecode_EOFWithoutSentinelCompletes(t *testing.T) {
	payload := `data: {"id":"1","choices":[{"delta":{"content":"partial"},"index":0}]}` + "\n"

	rec := &recorder{}
	require.NoError(t, NewDecoder(zerolog.Nop()).Decode(context.Background(), strings.NewReader(payload), rec))
	assert.Len(t, rec.chunks, 1)
	assert.Equal(t, 1, rec.completes)
	assert.Equal(t, 1, rec.terminals())
}

type failingReader struct {
	data string
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestDecode_ReadErrorIsSingleTerminalError(t *testing.T) {
	r := &failingReader{data: `data: {"id":"1","choices":[{"delta":{"content":"a"},"index":0}]}` + "\n"}

	rec := &recorder{}
	err := NewDecoder(zerolog.Nop()).Decode(context.Background(), r, rec)
	require.Error(t, err)
	assert.True(t, llm.IsNetworkError(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Len(t, rec.chunks, 1)
	assert.Equal(t, 0, rec.completes)
	assert.Len(t, rec.errs, 1)
}

func TestDecode_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	err := NewDecoder(zerolog.Nop()).Decode(ctx, strings.NewReader("data: [DONE]\n"), rec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rec.terminals())
	assert.Len(t, rec.errs, 1)
}

func TestStream_PullMode(t *testing.T) {
	payload := "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"Hi\"},\"index\":0}]}\n\n" +
		"data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\" there\"},\"index\":0}]}\n\n" +
		"data: [DONE]\n\n"

	s := NewDecoder(zerolog.Nop(), WithBuffer(1)).Stream(context.Background(), io.NopCloser(strings.NewReader(payload)))
	defer s.Close()

	var got []string
	for s.Next() {
		got = append(got, s.Chunk().Content)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"Hi", " there"}, got)
	assert.False(t, s.Next(), "stream must not restart")
}

func TestStream_ChannelMode(t *testing.T) {
	payload := "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"a\"},\"index\":0}]}\n" +
		"data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"b\"},\"index\":0}]}\n"

	s := NewDecoder(zerolog.Nop()).Stream(context.Background(), strings.NewReader(payload))
	var sb strings.Builder
	for c := range s.Chunks() {
		sb.WriteString(c.Content)
	}
	assert.Equal(t, "ab", sb.String())
	assert.NoError(t, s.Err())
}

func TestStream_CloseEarly(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewDecoder(zerolog.Nop()).Stream(context.Background(), pr)

	go func() {
		_, _ = pw.Write([]byte("data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"a\"},\"index\":0}]}\n"))
	}()
	require.True(t, s.Next())
	assert.Equal(t, "a", s.Chunk().Content)

	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	assert.Error(t, s.Err())
}

func TestParseChunk_FunctionCallDelta(t *testing.T) {
	chunk, err := ParseChunk(`{"id":"1","choices":[{"delta":{"function_call":{"name":"echo","arguments":"{\"a\""}},"index":0}]}`)
	require.NoError(t, err)
	require.NotNil(t, chunk.FunctionCall)
	assert.Equal(t, "echo", chunk.FunctionCall.Name)
	assert.Equal(t, `{"a"`, chunk.FunctionCall.Arguments)
	assert.False(t, chunk.Empty())
}
