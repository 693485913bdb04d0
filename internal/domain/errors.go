package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBreakerOpen is returned when the circuit breaker rejects a call
	// without attempting it.
	ErrBreakerOpen = errors.New("thermoflow: circuit breaker open")

	// ErrCallTimeout marks a protected call that exceeded its deadline.
	ErrCallTimeout = errors.New("thermoflow: call timed out")

	// ErrCacheUnavailable means the gateway has no prior successful response
	// to fall back on.
	ErrCacheUnavailable = errors.New("thermoflow: no cached response")

	// ErrNotFound is returned by lookups that have nothing to report yet.
	ErrNotFound = errors.New("thermoflow: not found")
)

// TransientUpstreamError wraps a network failure, bad status or timeout
// observed while calling the store from the gateway.
type TransientUpstreamError struct {
	Op  string
	Err error
}

func (e *TransientUpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *TransientUpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure reported by the storage collaborator.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
