package search

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInputSelected is returned when a query is triggered without an image.
	ErrNoInputSelected = errors.New("no image selected")
	// ErrTransportFailure matches every *TransportError.
	ErrTransportFailure = errors.New("search transport failure")
	// ErrEmptyAccurateSet marks a response with no match at or above Threshold.
	// It is an expected outcome, not a failure.
	ErrEmptyAccurateSet = errors.New("no accurate matches")
)

// TransportError reports a failed call to the search backend. StatusCode is
// set for non-2xx responses, Err for network and decoding failures.
type TransportError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrTransportFailure.Error()
}

// Unwrap returns the underlying network error, if any.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is ErrTransportFailure.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}
