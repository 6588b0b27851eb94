package pipeline

import (
	"context"
	"errors"
)

// Error taxonomy for the pipeline. Transient failures (timeouts, provider
// rate limits, 5xx) are retryable at both the chunk and job level.
// Validation failures (malformed provider output, structurally invalid
// questions) never retry. Resource failures (store read/write) retry at
// the job level only.

// RateLimitError is returned when the generation provider rejects a call
// for exceeding its rate limit.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return "rate limited: " + e.Message
}

// TimeoutError wraps a call that exceeded its time budget.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return "timeout: " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// TransientError wraps a provider or network failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ValidationError marks a content-quality failure. Retrying would replay
// the same malformed output, so it aborts immediately.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid content: " + e.Reason
}

// ResourceError wraps a store read/write failure. Retrying a single chunk
// after the store failed is not meaningful; the job-level retry handles it.
type ResourceError struct {
	Err error
}

func (e *ResourceError) Error() string {
	return "store: " + e.Err.Error()
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// IsRetryable classifies an error for the retry policy. Unknown errors
// default to retryable; only validation, resource and cancellation
// failures abort.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	var resourceErr *ResourceError
	if errors.As(err, &resourceErr) {
		return false
	}

	return true
}

// IsJobRetryable classifies an error for whole-job redelivery. Resource
// failures skip chunk retries but a fresh delivery gets a new store
// round trip, so only validation failures are terminal here.
func IsJobRetryable(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	return true
}
