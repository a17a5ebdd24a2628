package store

import "errors"

var (
	// ErrUnavailable wraps any error returned by the coordination store
	// client. A failed Ping at daemon startup makes the process exit
	// non-zero; during a worker step the error is logged, that step is
	// abandoned, and the worker goes on with its next step.
	ErrUnavailable = errors.New("coordination store unavailable")

	// ErrMalformedTuple is returned by the tuple decoder when a stored
	// value does not match the expected field count or types.
	ErrMalformedTuple = errors.New("malformed tuple encoding")
)
