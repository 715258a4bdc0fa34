package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies provider errors for display.
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit"
	ErrorTypeProviderDown       ErrorType = "provider_down"
	ErrorTypeAuth               ErrorType = "auth"
	ErrorTypeModeration         ErrorType = "moderation"
	ErrorTypeContextLength      ErrorType = "context_length"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// ProviderError is a structured error returned by model clients.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	Code       string
	Message    string
	RetryAfter *time.Duration
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsProviderError checks if err is a ProviderError and returns it.
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:     errType,
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// ClassifyStatus maps an HTTP status to an error type and whether a retry may help.
func ClassifyStatus(status int) (ErrorType, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit, true
	case status == http.StatusPaymentRequired:
		return ErrorTypeInsufficientCredit, false
	case status == http.StatusUnauthorized:
		return ErrorTypeAuth, false
	case status == http.StatusForbidden:
		return ErrorTypeModeration, false
	case status == http.StatusRequestEntityTooLarge:
		return ErrorTypeContextLength, false
	case status >= 500:
		return ErrorTypeProviderDown, true
	default:
		return ErrorTypeUnknown, false
	}
}
