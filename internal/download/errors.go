package download

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a transfer stops because the user cancelled
// it. It is a terminal outcome, not a failure: the .part file is kept.
var ErrCancelled = errors.New("download cancelled")

// errRangeNotSatisfiable marks a 416 response to a ranged request. It never
// escapes the task: the partial file is discarded and the attempt restarts
// from offset zero.
var errRangeNotSatisfiable = errors.New("range not satisfiable")

// HTTPError is a non-2xx/206 response status. It is fatal and never retried.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// NetworkError wraps a transient transport failure after the retry budget is
// exhausted.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
