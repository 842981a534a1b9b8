package upstream

import (
	"errors"
	"fmt"
)

// ErrRetryable marks attempt failures that justify moving to the next
// provider. Match with errors.Is.
var ErrRetryable = errors.New("retryable upstream failure")

// RetryableError describes one failed attempt against one provider.
type RetryableError struct {
	// Provider is the human-readable label of the provider that failed.
	Provider string
	// Status is the upstream HTTP status when the failure was a retryable
	// response (5xx or 429); zero for transport-level failures.
	Status int
	// Timeout is true when the attempt deadline expired before response
	// headers arrived.
	Timeout bool
	// Cause is the underlying error.
	Cause error
}

func (e *RetryableError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("provider %s: status %d", e.Provider, e.Status)
	case e.Timeout:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
	default:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
	}
}

func (e *RetryableError) Unwrap() error { return e.Cause }

func (e *RetryableError) Is(target error) bool { return target == ErrRetryable }
