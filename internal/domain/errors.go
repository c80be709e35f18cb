package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any NotFoundError.
	ErrNotFound = errors.New("record not found")
	// ErrConflict matches any ConflictError.
	ErrConflict = errors.New("conflict")
	// ErrImmutableField matches any ImmutableFieldError.
	ErrImmutableField = errors.New("immutable field")
	// ErrStoreUnavailable matches any StoreUnavailableError.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidPayload is returned when a payload fails the schema boundary.
	ErrInvalidPayload = errors.New("invalid payload")
)

// NotFoundError reports an unknown unique_id.
type NotFoundError struct {
	Kind     EntityKind
	UniqueID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s record %s not found", e.Kind, e.UniqueID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is an optimistic-concurrency violation on a single record.
type ConflictError struct {
	UniqueID string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.UniqueID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ImmutableFieldError rejects an attempt to change a write-once field.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s is immutable and cannot be adjusted", e.Field)
}

func (e *ImmutableFieldError) Is(target error) bool { return target == ErrImmutableField }

// StoreUnavailableError wraps a transport or database failure.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
