package metadata

import (
	"errors"
	"fmt"
)

// StoreError is returned by MetadataStore implementations for domain level
// failures, as opposed to raw driver errors which are wrapped as ErrIOError.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// ID is the entity identifier related to the error (if applicable)
	ID string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.ID != "" {
		msg = msg + ": " + e.ID
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested row doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a row with the same id or blob key exists
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters were provided
	ErrInvalidArgument

	// ErrIOError indicates the backend failed to read or write
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrIOError:
		return "i/o error"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// NewNotFoundError creates a not found error for the given entity kind.
func NewNotFoundError(kind, id string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: kind + " not found", ID: id}
}

// NewAlreadyExistsError creates an already exists error for the given entity kind.
func NewAlreadyExistsError(kind, id string) *StoreError {
	return &StoreError{Code: ErrAlreadyExists, Message: kind + " already exists", ID: id}
}

// NewIOError wraps a backend failure.
func NewIOError(op string, err error) *StoreError {
	return &StoreError{Code: ErrIOError, Message: op + " failed", Err: err}
}

// IsNotFound reports whether err is a StoreError with code ErrNotFound.
func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is a StoreError with code ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrAlreadyExists)
}

func hasCode(err error, code ErrorCode) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.Code == code
}
