package engine

import "errors"

var (
	// ErrInvalidInput is returned before any state is touched.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence means the save failed. Nothing from the call was
	// committed, so the call can be retried as is.
	ErrPersistence = errors.New("persistence failure")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("engine closed")
)

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// stepError marks a failure inside message processing, as opposed to a failed
// save. It turns into the fallback envelope instead of an error.
type stepError struct {
	err error
}

func (e *stepError) Error() string { return "processing failed: " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// errUnchanged aborts an update that has nothing to save.
var errUnchanged = errors.New("unchanged")
