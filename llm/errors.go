package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	Attempts    int   // Set on retry-exhausted errors
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge    ErrorType = "request_too_large"
	ErrorTypeInvalidRequest     ErrorType = "invalid_request"
	ErrorTypeProvider           ErrorType = "provider"
	ErrorTypeBackend            ErrorType = "backend"
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeMalformedChunk     ErrorType = "malformed_chunk"
	ErrorTypeMalformedResponse  ErrorType = "malformed_response"
	ErrorTypeRetryExhausted     ErrorType = "retry_exhausted"
	ErrorTypeRateLimitExhausted ErrorType = "rate_limit_exhausted"
	ErrorTypeNotReady           ErrorType = "not_ready"
	ErrorTypeUnknown            ErrorType = "unknown"
)

var (
	// ErrNoActiveProvider is returned by ProviderRegistry.GetActive when no provider is registered.
	ErrNoActiveProvider = errors.New("no active provider")
	// ErrProviderNotFound is returned when a named provider is not registered.
	ErrProviderNotFound = errors.New("provider not found")
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

func hasType(err error, t ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == t
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	return hasType(err, ErrorTypeRequestTooLarge)
}

// IsNetworkError checks if an error is a transport-level error.
func IsNetworkError(err error) bool {
	return hasType(err, ErrorTypeNetwork)
}

// IsMalformedChunkError checks if an error is a recoverable stream chunk error.
func IsMalformedChunkError(err error) bool {
	return hasType(err, ErrorTypeMalformedChunk)
}

// IsRetryExhaustedError checks if an error reports exhausted retries.
func IsRetryExhaustedError(err error) bool {
	return hasType(err, ErrorTypeRetryExhausted)
}

// IsRateLimitExhaustedError checks if an error reports a rate limiter that could not grant tokens.
func IsRateLimitExhaustedError(err error) bool {
	return hasType(err, ErrorTypeRateLimitExhausted)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// StatusCode extracts the backend status code from an error, or 0.
func StatusCode(err error) int {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.StatusCode
	}
	return 0
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  http.StatusTooManyRequests,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   false,
		StatusCode:  http.StatusRequestEntityTooLarge,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewNetworkError wraps a transport failure. Network errors are always retryable.
func NewNetworkError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     message,
		Retryable:   true,
		ProviderErr: cause,
	}
}

// NewBackendError creates an error for a non-2xx backend response.
// Retryable is derived from the status code.
func NewBackendError(statusCode int, message string, cause error) *Error {
	t := ErrorTypeBackend
	switch statusCode {
	case http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case http.StatusRequestEntityTooLarge:
		t = ErrorTypeRequestTooLarge
	case http.StatusBadRequest:
		t = ErrorTypeInvalidRequest
	}
	return &Error{
		Type:        t,
		Message:     message,
		Retryable:   RetryableStatus(statusCode),
		StatusCode:  statusCode,
		ProviderErr: cause,
	}
}

// NewMalformedChunkError reports a stream payload that could not be decoded.
func NewMalformedChunkError(payload string, cause error) *Error {
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	return &Error{
		Type:        ErrorTypeMalformedChunk,
		Message:     fmt.Sprintf("malformed stream chunk %q", payload),
		ProviderErr: cause,
	}
}

// NewMalformedResponseError reports a response body that could not be decoded.
func NewMalformedResponseError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeMalformedResponse,
		Message:     message,
		ProviderErr: cause,
	}
}

// NewRetryExhaustedError wraps the last failure after all attempts were used.
func NewRetryExhaustedError(attempts int, lastErr error) *Error {
	return &Error{
		Type:        ErrorTypeRetryExhausted,
		Message:     fmt.Sprintf("retries exhausted after %d attempts", attempts),
		StatusCode:  StatusCode(lastErr),
		Attempts:    attempts,
		ProviderErr: lastErr,
	}
}

// NewRateLimitExhaustedError reports that tokens could not be acquired within the bounded wait.
func NewRateLimitExhaustedError(key string, requested int) *Error {
	return &Error{
		Type:    ErrorTypeRateLimitExhausted,
		Message: fmt.Sprintf("rate limit for %q: could not acquire %d token(s)", key, requested),
	}
}

// NewNotReadyError reports a provider that is missing required configuration.
func NewNotReadyError(provider string) *Error {
	return &Error{
		Type:    ErrorTypeNotReady,
		Message: fmt.Sprintf("provider %s is not configured", provider),
	}
}

// RetryableStatus reports whether a backend status code is worth retrying:
// any 5xx, 429 Too Many Requests and 408 Request Timeout.
func RetryableStatus(code int) bool {
	return (code >= 500 && code < 600) || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
