// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for per-command failures. All of these are caught at
// the dispatcher boundary and converted to a failure Response — the
// connection survives them.
var (
	// ErrUnknownCommand is returned when no handler is registered for
	// a command kind.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrApprovalDenied is returned when the operator declines a
	// confirmation prompt, or when the requesting session disconnects
	// while its command is pending. The wording is part of the client
	// protocol.
	ErrApprovalDenied = errors.New("command cancelled by user")

	// ErrApprovalTimeout is returned when a confirmation prompt goes
	// unanswered past the configured timeout. The wording is part of
	// the client protocol.
	ErrApprovalTimeout = errors.New("approval timed out")

	// ErrHostBusy is returned by the gateway when its work queue is
	// full. The queue holds 256 calls; a client that hits this is
	// submitting faster than the host can ever drain.
	ErrHostBusy = errors.New("host busy: call queue is full")

	// ErrServerClosed is returned for work submitted after the server
	// began shutting down.
	ErrServerClosed = errors.New("bridge server closed")
)

// ValidationError reports a missing or malformed command field. The
// command never reaches approval or the gateway.
type ValidationError struct {
	// Field is the payload key that failed validation.
	Field string

	// Reason describes the failure ("missing", "must be a string", ...).
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// missingField returns the ValidationError for an absent required field.
func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "missing"}
}

// HostCallError reports a fault raised inside a host call. Message is
// always set; Trace carries the host-side stack when one was captured
// (host API panics, script failures). Delivered to the waiting caller
// as a failure Response with the trace in the detail field.
type HostCallError struct {
	Message string
	Trace   string
}

func (e *HostCallError) Error() string { return e.Message }

// BindError reports that every port in the fallback range was
// occupied. Fatal at startup — there is nothing to serve on.
type BindError struct {
	// Host is the interface the listener tried to bind.
	Host string

	// FirstPort and Count describe the attempted range
	// [FirstPort, FirstPort+Count).
	FirstPort int
	Count     int

	// LastErr is the bind error from the final attempt.
	LastErr error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("no free port on %s in %d-%d: %v",
		e.Host, e.FirstPort, e.FirstPort+e.Count-1, e.LastErr)
}

func (e *BindError) Unwrap() error { return e.LastErr }
