package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/budgetly/orchestrator/scheduler"
)

var (
	// ErrRateLimitExceeded is returned before any network attempt once the
	// rate budget is spent. Returned wrapped in *RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrUnauthorized means the session could not be recovered: the token
	// refresh failed or there was no token to refresh.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTooManyRequests is returned, wrapped in *TooManyRequestsError,
	// after the 429 backoff has elapsed.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrUpgradePrompted is the "blocked, UI already notified" outcome of a
	// premium-gated request.
	ErrUpgradePrompted = errors.New("premium required: upgrade prompted")

	// ErrAborted marks a request whose caller cancelled it.
	ErrAborted = errors.New("request aborted")

	// ErrClosed is returned once the orchestrator has been closed.
	ErrClosed = scheduler.ErrClosed
)

// RateLimitError reports a locally rejected request.
type RateLimitError struct {
	RetryIn time.Duration // until the oldest admission leaves the window
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrRateLimitExceeded, e.RetryIn)
}

// Is makes errors.Is(err, ErrRateLimitExceeded) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// TooManyRequestsError reports a 429 from the server.
type TooManyRequestsError struct {
	RetryAfter time.Duration // the backoff that was applied
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("%s: backed off %s", ErrTooManyRequests, e.RetryAfter)
}

// Is makes errors.Is(err, ErrTooManyRequests) match.
func (e *TooManyRequestsError) Is(target error) bool { return target == ErrTooManyRequests }

// IsAborted reports whether err is a caller cancellation rather than a failure.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// aborted wraps a context error so both ErrAborted and the cause match.
func aborted(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
