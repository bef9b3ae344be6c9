package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// defaultRetryAfter is used for 429 responses without a Retry-After header.
const defaultRetryAfter = 60 * time.Second

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// ToOpenAIMessage converts a message to the wire format.
func ToOpenAIMessage(msg llm.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:    string(msg.Role),
		Content: msg.Content,
		Name:    msg.Name,
	}
	if msg.FunctionCall != nil {
		out.FunctionCall = &openai.FunctionCall{
			Name:      msg.FunctionCall.Name,
			Arguments: msg.FunctionCall.Arguments,
		}
	}
	return out
}

// ToOpenAIRequest builds the chat completion request body.
func ToOpenAIRequest(model string, msgs []llm.Message, opts *llm.ChatOptions, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
		Stream:   stream,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, ToOpenAIMessage(m))
	}
	if opts == nil {
		return req
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if opts.TopP != nil {
		req.TopP = float32(*opts.TopP)
	}
	req.MaxTokens = opts.MaxTokens
	req.N = opts.N
	req.Stop = opts.Stop
	req.User = opts.User
	if len(opts.Functions) > 0 {
		req.Functions = make([]openai.FunctionDefinition, 0, len(opts.Functions))
		for _, fn := range opts.Functions {
			req.Functions = append(req.Functions, openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			})
		}
		if opts.FunctionCall != "" {
			req.FunctionCall = functionCallChoice(opts.FunctionCall)
		}
	}
	return req
}

// functionCallChoice maps "auto"/"none" through and any other value to a forced function.
func functionCallChoice(choice string) any {
	switch choice {
	case "auto", "none":
		return choice
	default:
		return map[string]string{"name": choice}
	}
}

// FromOpenAIResponse converts a non-streaming response.
func FromOpenAIResponse(resp openai.ChatCompletionResponse) (*llm.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, llm.NewMalformedResponseError("no choices in response", nil)
	}
	choice := resp.Choices[0]
	out := &llm.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if resp.Created > 0 {
		out.CreatedAt = time.Unix(resp.Created, 0)
	}
	switch {
	case choice.Message.FunctionCall != nil:
		out.FunctionCall = &llm.FunctionCall{
			Name:      choice.Message.FunctionCall.Name,
			Arguments: choice.Message.FunctionCall.Arguments,
		}
	case len(choice.Message.ToolCalls) > 0:
		// Newer servers answer legacy function requests with tool calls.
		tc := choice.Message.ToolCalls[0]
		out.FunctionCall = &llm.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	}
	return out, nil
}

// decodeError converts a non-2xx response into an *llm.Error.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := http.StatusText(resp.StatusCode)
	var errResp openai.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	} else if len(body) > 0 {
		message = string(body)
	}

	cause := fmt.Errorf("status %d: %s", resp.StatusCode, message)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return llm.NewRateLimitError(fmt.Sprintf("OpenAI rate limit: %s", message), &retryAfter, cause)
	case http.StatusRequestEntityTooLarge:
		return llm.NewRequestTooLargeError(fmt.Sprintf("OpenAI request too large: %s", message), cause)
	default:
		return llm.NewBackendError(resp.StatusCode, fmt.Sprintf("OpenAI API error: %s", message), cause)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
