package pipeline

import "errors"

var (
	// ErrMalformedPayload is returned when a job payload fails boundary
	// validation. Retrying cannot fix the payload, so the worker archives
	// the job instead of requeueing it.
	ErrMalformedPayload = errors.New("malformed job payload")

	// ErrUnknownKind is returned when no pipeline is registered for a job kind
	ErrUnknownKind = errors.New("unknown job kind")
)

// RetryableError wraps transient failures where a later delivery may succeed
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked retryable
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
