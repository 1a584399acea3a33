package asr

import "errors"

// ErrRetriesExhausted marks a per-file failure where every allowed retry of
// a rate-limited call was spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryableError wraps failures worth retrying with backoff: rate-limit and
// quota responses from a remote backend. Anything not wrapped in it is
// treated as fatal for the file.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as retryable. Returns nil for a nil err.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
