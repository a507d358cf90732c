package transport

import (
	"errors"
	"fmt"
)

// Stable machine-readable codes reported by transport implementations.
// Mirrors the Bot API error surface the executor needs to branch on.
const (
	CodeNetwork     = "network"      // connectivity, DNS, TLS
	CodeTimeout     = "timeout"      // deadline exceeded at the transport
	CodeFlood       = "flood_wait"   // Telegram flood control
	CodeForbidden   = "forbidden"    // bot lacks privileges in the chat
	CodeTargetGone  = "target_gone"  // target already left / never joined
	CodeBadRequest  = "bad_request"  // malformed call, never retryable
	CodeUnavailable = "unavailable"  // Telegram-side 5xx
)

// Error is a classified transport failure. Transient errors are retried by
// the executor with backoff; permanent ones fail the action immediately.
type Error struct {
	Code      string
	Message   string
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// NewTransient builds a retryable transport error.
func NewTransient(code, msg string) *Error {
	return &Error{Code: code, Message: msg, Transient: true}
}

// NewPermanent builds a terminal transport error.
func NewPermanent(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// IsTransient reports whether err is a transport error worth retrying.
// Unclassified errors are treated as transient: connectivity failures tend
// to surface as plain net errors, and retrying them is the safe default
// because the external mutations themselves are idempotent.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Transient
	}
	return err != nil
}
