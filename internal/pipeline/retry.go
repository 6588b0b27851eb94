package pipeline

import (
	"context"
	"time"
)

// RetryPolicy wraps a fallible operation with bounded attempts and
// linear backoff: the wait before attempt n+1 is BaseDelay * n. Linear
// is used for both chunk-level and job-level retries so the two
// mechanisms share one backoff shape.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Retryable classifies errors; nil defaults to IsRetryable.
	Retryable func(error) bool
}

// Attempt describes one completed attempt, success or failure.
type Attempt struct {
	Number int
	Err    error
}

// Execute runs op until it succeeds, a non-retryable error occurs, or
// MaxAttempts is exhausted. Every attempt is reported to onAttempt (if
// non-nil) so callers can surface partial progress across retries.
// Returns the number of attempts made and the last error.
func (p RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error, onAttempt func(Attempt)) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if onAttempt != nil {
			onAttempt(Attempt{Number: attempt, Err: lastErr})
		}
		if lastErr == nil {
			return attempt, nil
		}
		if !retryable(lastErr) || attempt == maxAttempts {
			return attempt, lastErr
		}

		delay := p.BaseDelay * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
	}

	return maxAttempts, lastErr
}
