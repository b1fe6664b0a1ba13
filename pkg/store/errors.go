package store

import (
	"errors"
	"fmt"
)

// ConflictError reports that the store's state for a record set changed
// since the adapter last observed it. The write was not applied; the
// caller refreshes its belief and recomputes the write.
type ConflictError struct {
	Set   string // "(name, type)" description of the implicated set
	Cause error
}

func (e *ConflictError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("conflict on %s: %v", e.Set, e.Cause)
	}
	return fmt.Sprintf("conflict on %s: remote state changed", e.Set)
}

func (e *ConflictError) Unwrap() error { return e.Cause }

// Conflict wraps err as a ConflictError for the given set.
func Conflict(set string, err error) error {
	return &ConflictError{Set: set, Cause: err}
}

// Conflictf builds a ConflictError with a formatted set description.
func Conflictf(format string, args ...any) error {
	return &ConflictError{Set: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// TransientError reports that the store is temporarily unable to accept
// a request: throttling, connection failure, lock contention. Transient
// errors are retried without bound under growing backoff.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
