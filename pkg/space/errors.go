package space

import (
	"errors"
	"strings"
)

// ErrorCode categorizes engine errors.
type ErrorCode int

const (
	// ErrConflictExhausted indicates an optimistic retry loop used its full budget.
	ErrConflictExhausted ErrorCode = iota + 1

	// ErrInUse indicates a guarded claim matched no row: the target is
	// already referenced, deleted, or otherwise unavailable.
	ErrInUse

	// ErrInvalidArgument indicates a malformed name, path or parameter.
	ErrInvalidArgument

	// ErrReadOnly indicates a mutation on a read-only space or blob.
	ErrReadOnly

	// ErrIllegalState indicates an unexpected row count or state transition.
	ErrIllegalState

	// ErrConversionExhausted indicates a variant failed its last allowed conversion.
	ErrConversionExhausted

	// ErrConversionDisabled indicates a variant is missing and this node cannot convert.
	ErrConversionDisabled

	// ErrUnknownSpace indicates a lookup of an unconfigured space.
	ErrUnknownSpace

	// ErrNotFound indicates a required object is missing.
	ErrNotFound

	// ErrStorage indicates the metadata or content store failed.
	ErrStorage
)

func (c ErrorCode) String() string {
	switch c {
	case ErrConflictExhausted:
		return "ConflictExhausted"
	case ErrInUse:
		return "InUse"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrReadOnly:
		return "ReadOnly"
	case ErrIllegalState:
		return "IllegalState"
	case ErrConversionExhausted:
		return "ConversionExhausted"
	case ErrConversionDisabled:
		return "ConversionDisabled"
	case ErrUnknownSpace:
		return "UnknownSpace"
	case ErrNotFound:
		return "NotFound"
	case ErrStorage:
		return "Storage"
	default:
		return "Unknown"
	}
}

// Error is returned by every Space operation.
//
// The message names the object and the condition and never includes the
// text of the underlying cause, which stays reachable through Unwrap:
//
//	space docs: attach 6f1c...: the blob is either deleted, temporary or already in use
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Space is the name of the space the operation ran against
	Space string

	// Op is the failed operation, e.g. "update content"
	Op string

	// Key identifies the object (blob key, directory id, variant name)
	Key string

	// Message is the user-facing description
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Space != "" {
		b.WriteString("space ")
		b.WriteString(e.Space)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Key != "" {
			b.WriteString(" ")
			b.WriteString(e.Key)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var spaceErr *Error
	if errors.As(err, &spaceErr) {
		return spaceErr.Code == code
	}
	return false
}

// annotate fills in the space, op and key of an *Error produced deeper in
// the call chain. Other errors become ErrStorage.
func (s *Space) annotate(err error, op, key string) error {
	if err == nil {
		return nil
	}

	var spaceErr *Error
	if errors.As(err, &spaceErr) {
		if spaceErr.Space == "" {
			spaceErr.Space = s.name
		}
		if spaceErr.Op == "" {
			spaceErr.Op = op
			spaceErr.Key = key
		}
		return spaceErr
	}

	return &Error{
		Code:    ErrStorage,
		Space:   s.name,
		Op:      op,
		Key:     key,
		Message: "the storage backend failed",
		Err:     err,
	}
}

func (s *Space) newError(code ErrorCode, op, key, message string) *Error {
	return &Error{Code: code, Space: s.name, Op: op, Key: key, Message: message}
}
