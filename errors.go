// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"
)

// ErrorType represents different types of ODBC errors.
type ErrorType int

const (
	// ErrGeneric is a generic error.
	ErrGeneric ErrorType = iota
	// ErrAlloc is a handle allocation error.
	ErrAlloc
	// ErrConnection is a connection error.
	ErrConnection
	// ErrPrepare is a statement preparation error.
	ErrPrepare
	// ErrExec is a statement execution error.
	ErrExec
	// ErrFetch is a result fetching error.
	ErrFetch
	// ErrBind is a buffer binding error.
	ErrBind
	// ErrBatch is an arrayed execution error.
	ErrBatch
	// ErrStream is a chunked data transfer error.
	ErrStream
	// ErrTransaction is a transaction error.
	ErrTransaction
	// ErrProtocol is a caller-side state machine violation, reported before
	// anything reaches the driver manager.
	ErrProtocol
	// ErrDriver is a failure to locate or load the driver manager library.
	ErrDriver
)

// Error is an ODBC-specific error type. When the error originates from a
// driver call the diagnostic records drained from the failing handle ride
// along in Records, most specific first, exactly in driver order.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Code    int32
	Records []DiagnosticRecord
}

// Error returns the error message.
func (e *Error) Error() string {
	if len(e.Records) > 0 {
		r := e.Records[0]
		return fmt.Sprintf("odbc: %s: %s [%s] %s", e.Op, e.Message, r.State, r.Message)
	}
	if e.Op != "" {
		return fmt.Sprintf("odbc: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("odbc: %s", e.Message)
}

// NewError creates a new Error.
func NewError(typ ErrorType, message string) *Error {
	return &Error{
		Type:    typ,
		Message: message,
	}
}

// IsError checks if an error is of a specific type.
func IsError(err error, typ ErrorType) bool {
	odbcErr, ok := err.(*Error)
	if !ok {
		return false
	}
	return odbcErr.Type == typ
}

// State returns the five character SQLSTATE of the most specific diagnostic
// record, or the empty string if the error carries no records.
func (e *Error) State() string {
	if len(e.Records) == 0 {
		return ""
	}
	return e.Records[0].State
}
