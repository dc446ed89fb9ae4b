package api

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks failures caused by the request payload, so
// callers can map them to 400 with errors.Is.
var ErrInvalidRequest = errors.New("invalid request")

type requestError struct {
	reason string
}

func (e requestError) Error() string { return e.reason }

func (e requestError) Unwrap() error { return ErrInvalidRequest }

// badRequestf builds an error wrapping ErrInvalidRequest.
func badRequestf(format string, args ...any) error {
	return requestError{reason: fmt.Sprintf(format, args...)}
}
