package origin

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRetryExhausted is returned when every attempt failed at the network level.
var ErrRetryExhausted = errors.New("origin retry attempts exhausted")

// ErrorClass is the classification of a failed origin round trip.
type ErrorClass string

const (
	// ErrorClassNone is a response the transport passes on as is.
	ErrorClassNone ErrorClass = ""

	// ErrorClassServer represents retryable 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassUnavailable represents 429 and 503 responses.
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// Classify categorizes the outcome of one round trip.
// 4xx responses other than 429 are final and classify as ErrorClassNone.
func Classify(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		return ErrorClassUnavailable
	case resp.StatusCode == http.StatusNotImplemented,
		resp.StatusCode == http.StatusHTTPVersionNotSupported:
		return ErrorClassNone
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassNone
	}
}

// Error describes a round trip that failed after all attempts.
type Error struct {
	Class    ErrorClass
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("origin %s error after %d attempts: %v", e.Class, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}
