package record

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is matched by every InvalidStateError.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrNetwork is matched by every NetworkError.
	ErrNetwork = errors.New("network unavailable")
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")
)

// InvalidStateError reports a mutation attempted on a record that no longer accepts it.
type InvalidStateError struct {
	Op       string
	RecordID string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: record %s is already submitted", e.Op, e.RecordID)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NotFoundError reports a missing stored entry. Callers treat a missing current
// record as "start fresh".
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.Key) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NetworkError wraps a transport failure from a sync or resource fetch.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": network unavailable"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError reports input rejected at a mutator boundary.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
