package transform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when every attempt failed. It is the
	// per-item Failure signal: the orchestrator skips the item and moves on.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrUnsupportedModel is returned for a model id with no registered backend.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrMissingAPIKey is returned when a model's credential is not configured.
	ErrMissingAPIKey = errors.New("missing api key")

	// ErrEmptyResponse is returned when the provider answered with no text.
	ErrEmptyResponse = errors.New("empty response")
)

// ErrorClass represents a classification of transformation failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassEmpty represents a successful call that returned no text.
	ErrorClassEmpty ErrorClass = "empty"

	// ErrorClassCancelled represents context cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// ProviderError represents a provider failure with additional context.
type ProviderError struct {
	Provider   string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %s: %v",
			e.Provider, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s",
		e.Provider, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to an error class.
// Returns "" for non-error statuses.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classifyError determines the class of an error returned by a backend.
// Only the caller's own cancellation counts as cancelled: an HTTP client
// timeout also wraps context.DeadlineExceeded but is a network failure.
func classifyError(ctx context.Context, err error) ErrorClass {
	if err == nil {
		return ""
	}
	if ctx.Err() != nil {
		return ErrorClassCancelled
	}
	if errors.Is(err, ErrEmptyResponse) {
		return ErrorClassEmpty
	}
	var perr *ProviderError
	if errors.As(err, &perr) && perr.ErrorClass != "" {
		return perr.ErrorClass
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its
// classification. Client errors are retried only when retryClientErrors is set.
func shouldRetry(errorClass ErrorClass, retryClientErrors bool) bool {
	switch errorClass {
	case ErrorClassClient:
		return retryClientErrors
	case ErrorClassCancelled:
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassEmpty:
		return true
	default:
		return false
	}
}
