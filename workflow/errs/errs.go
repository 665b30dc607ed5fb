// Package errs defines the exhaustive error-kind taxonomy shared by every
// workflow engine component (spec §7). It is kept separate from the root
// workflow package so that leaf packages (expr, store, emit) can return
// engine errors without importing the root package and creating an import
// cycle.
package errs

import "fmt"

// Kind enumerates the error categories a component may raise. The set is
// exhaustive by design: new failure modes should map onto one of these,
// not grow the enum.
type Kind string

const (
	// Validation indicates the input violated a static constraint (empty
	// variable name, malformed expression, a broken graph invariant).
	Validation Kind = "Validation"
	// NotFound indicates an unknown node_id, edge_id, checkpoint_id, or
	// thread_id was referenced.
	NotFound Kind = "NotFound"
	// Conflict indicates an operation collided with existing state
	// (registering a builtin transform name, forking a non-active thread,
	// trimming history past next_index).
	Conflict Kind = "Conflict"
	// Timeout indicates a configured time budget was exceeded.
	Timeout Kind = "Timeout"
	// Cancelled indicates the caller's cancellation signal fired.
	Cancelled Kind = "Cancelled"
	// BudgetExceeded indicates a step or resource budget was exhausted.
	BudgetExceeded Kind = "BudgetExceeded"
	// Handler indicates a node handler reported failure or panicked.
	Handler Kind = "Handler"
	// Internal indicates a broken invariant — these are engine bugs.
	Internal Kind = "Internal"
)

// Error is the structured error type returned across component boundaries.
// It carries enough context (Kind, Component, a human message, and an
// optional wrapped cause) for callers to branch on Kind via errors.Is /
// errors.As without string-matching messages.
type Error struct {
	Kind      Kind
	Component string // e.g. "expr", "checkpoint", "router"
	Message   string
	Cause     error
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, letting
// callers write errors.Is(err, errs.New(errs.NotFound, "", "")) style
// checks, or more conveniently use the Is* helpers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if castErr, ok := err.(*Error); ok {
		e = castErr
		return e.Kind, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if castErr, ok := err.(*Error); ok {
			return castErr.Kind, true
		}
	}
	return "", false
}
