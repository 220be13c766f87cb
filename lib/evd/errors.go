package evd

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies every failure an engine may report. The wrap layer
// never translates codes, it only propagates them to its callers.
type ErrCode uint8

const (
	// ErrCInternal signals an unexpected engine failure.
	ErrCInternal ErrCode = iota
	// ErrCNotFound signals an unknown database, store or index name.
	ErrCNotFound
	// ErrCConstraint signals an Add on an existing key or a unique index violation.
	ErrCConstraint
	// ErrCData signals an unusable key or value (e.g. a nil key on a store
	// without a key generator, or an advance count below one).
	ErrCData
	// ErrCInvalidState signals use of an object outside its lifetime, for
	// example a schema call outside a version change transaction or an
	// advance on a cursor that is already advancing.
	ErrCInvalidState
	// ErrCTransactionInactive signals a request placed on a finished transaction.
	ErrCTransactionInactive
	// ErrCReadOnly signals a write request in a read-only transaction.
	ErrCReadOnly
	// ErrCVersion signals an open with a version lower than the current one.
	ErrCVersion
	// ErrCAbort is the generic abort failure used when a transaction is
	// aborted without an explicit error.
	ErrCAbort
	// ErrCClosed signals use of a closed connection or factory.
	ErrCClosed
)

func (c ErrCode) String() string {
	switch c {
	case ErrCInternal:
		return "Internal"
	case ErrCNotFound:
		return "NotFound"
	case ErrCConstraint:
		return "Constraint"
	case ErrCData:
		return "Data"
	case ErrCInvalidState:
		return "InvalidState"
	case ErrCTransactionInactive:
		return "TransactionInactive"
	case ErrCReadOnly:
		return "ReadOnly"
	case ErrCVersion:
		return "Version"
	case ErrCAbort:
		return "Abort"
	case ErrCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type used for all failures surfaced through the evd
// object graph. It wraps an ErrCode and a message.
type Error struct {
	Code ErrCode // The error code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("evd error (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrCode, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// CodeOf extracts the ErrCode from an error. The boolean return value
// indicates whether the error is (or wraps) an *Error.
func CodeOf(err error) (ErrCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return ErrCInternal, false
}

// IsCode reports whether the error carries the given code.
func IsCode(err error, code ErrCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
