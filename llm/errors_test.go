package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestIsRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", nil, nil)
	if !IsRateLimitError(err) {
		t.Error("Expected IsRateLimitError to return true for rate limit error")
	}

	regularErr := NewProviderError("some error", nil)
	if IsRateLimitError(regularErr) {
		t.Error("Expected IsRateLimitError to return false for non-rate-limit error")
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(NewNetworkError("connection reset", errors.New("EOF"))) {
		t.Error("Expected network errors to be retryable")
	}
	if IsRetryableError(NewProviderError("some error", nil)) {
		t.Error("Expected provider errors to not be retryable")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Error("Expected plain errors to not be retryable")
	}
}

func TestNewBackendError_Classification(t *testing.T) {
	tests := []struct {
		status    int
		wantType  ErrorType
		retryable bool
	}{
		{http.StatusServiceUnavailable, ErrorTypeBackend, true},
		{http.StatusInternalServerError, ErrorTypeBackend, true},
		{http.StatusTooManyRequests, ErrorTypeRateLimit, true},
		{http.StatusRequestTimeout, ErrorTypeBackend, true},
		{http.StatusBadRequest, ErrorTypeInvalidRequest, false},
		{http.StatusUnauthorized, ErrorTypeBackend, false},
		{http.StatusRequestEntityTooLarge, ErrorTypeRequestTooLarge, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := NewBackendError(tt.status, "backend failed", nil)
			if err.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, err.Type)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, err.Retryable)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, StatusCode(err))
			}
		})
	}
}

func TestRetryExhaustedError_WrapsCause(t *testing.T) {
	cause := NewBackendError(503, "unavailable", nil)
	err := NewRetryExhaustedError(4, cause)

	if !IsRetryExhaustedError(err) {
		t.Fatal("Expected retry exhausted error")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the last cause")
	}
	if err.Attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", err.Attempts)
	}
	if IsRetryableError(err) {
		t.Error("Exhausted errors must not be retried again")
	}
	if StatusCode(err) != 503 {
		t.Errorf("Expected status 503 to be carried, got %d", StatusCode(err))
	}
}

func TestExtractRetryAfter(t *testing.T) {
	retryAfter := 30 * time.Second
	err := NewRateLimitError("rate limit", &retryAfter, nil)

	extracted := ExtractRetryAfter(fmt.Errorf("wrapped: %w", err))
	if extracted == nil {
		t.Fatal("Expected ExtractRetryAfter to return a duration")
	}
	if *extracted != retryAfter {
		t.Errorf("Expected retry after %v, got %v", retryAfter, *extracted)
	}
	if ExtractRetryAfter(errors.New("plain")) != nil {
		t.Error("Expected nil retry-after for plain errors")
	}
}

func TestError_ErrorMessage(t *testing.T) {
	err := NewMalformedChunkError("{bad", errors.New("unexpected end of JSON input"))
	want := `malformed stream chunk "{bad": unexpected end of JSON input`
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if !IsMalformedChunkError(err) {
		t.Error("Expected malformed chunk error")
	}
}
