// Package errs defines the error taxonomy shared by the store, the sync
// engine, and the HTTP layer. Lifecycle and validation failures are checked
// before any optimistic local mutation, so a rejected call never leaves
// client state half-applied.
package errs

import (
	"errors"
	"fmt"
)

// Store sentinels. Both the Postgres store and the in-memory store
// translate their native failures into these so callers branch on one set.
var (
	ErrNotFound            = errors.New("not found")
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError: caller-supplied input fails a precondition. Never
// retried; the message is shown to the user verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateError: the action is disallowed by the current lifecycle state
// (e.g. sending into a pending or closed ticket). Carries an actionable,
// user-facing reason.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }

func State(format string, args ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, args...)}
}

// PermissionError: the store rejected the operation for authorization
// reasons (row-level security or role checks). Not retried.
type PermissionError struct {
	Op  string
	Err error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: permission denied", e.Op)
	}
	return fmt.Sprintf("%s: permission denied: %v", e.Op, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

func Permission(op string, err error) error {
	return &PermissionError{Op: op, Err: err}
}

// RaceConditionError: a uniqueness violation during conversation creation.
// Internal only: always resolved by re-query, never surfaced to callers.
type RaceConditionError struct {
	Err error
}

func (e *RaceConditionError) Error() string {
	return fmt.Sprintf("lost creation race: %v", e.Err)
}

func (e *RaceConditionError) Unwrap() error { return e.Err }

// TransientError: network or store failure with no more specific cause.
// Surfaced with a generic retry-suggesting message; local state is left
// untouched.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsState(err error) bool {
	var s *StateError
	return errors.As(err, &s)
}

func IsPermission(err error) bool {
	var p *PermissionError
	return errors.As(err, &p)
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// UserMessage maps an error to the text shown to the end user. Internal
// detail from transient failures is never leaked.
func UserMessage(err error) string {
	switch {
	case IsValidation(err), IsState(err):
		return err.Error()
	case IsPermission(err):
		return "you do not have permission to perform this action"
	case errors.Is(err, ErrNotFound):
		return "not found"
	default:
		return "something went wrong, please try again"
	}
}
