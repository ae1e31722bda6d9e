// Package corerr defines the closed set of error kinds used across the core
// (SPEC_FULL.md §7): transient, conflict, not_found, policy, integrity, fatal.
package corerr

import (
	"errors"
	"fmt"
)

// Kind is one of the six error kinds fixed by §7. It is never extended at
// call sites; new failure modes are classified into one of these six.
type Kind string

const (
	Transient Kind = "transient"
	Conflict  Kind = "conflict"
	NotFound  Kind = "not_found"
	Policy    Kind = "policy"
	Integrity Kind = "integrity"
	Fatal     Kind = "fatal"
)

// Error is a typed error carrying a Kind, a generic user-facing message, and
// structured metadata for remediation (e.g. shortfall amount, retry_after).
// Detail beyond Message belongs in Metadata and logs, never in the message
// surfaced to end users (§7: "user-visible messages are generic").
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]any
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// With attaches a metadata key/value and returns the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func New(kind Kind, msg string) *Error                { return newError(kind, msg, nil) }
func Wrap(kind Kind, msg string, cause error) *Error  { return newError(kind, msg, cause) }
func NewTransient(msg string) *Error                  { return newError(Transient, msg, nil) }
func NewConflict(msg string) *Error                   { return newError(Conflict, msg, nil) }
func NewNotFound(msg string) *Error                   { return newError(NotFound, msg, nil) }
func NewPolicy(msg string) *Error                     { return newError(Policy, msg, nil) }
func NewIntegrity(msg string) *Error                  { return newError(Integrity, msg, nil) }
func NewFatal(msg string) *Error                      { return newError(Fatal, msg, nil) }

// KindOf returns the Kind of err if it is (or wraps) a *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
