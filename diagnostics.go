// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import "fmt"

// DiagnosticRecord is one structured error or warning reported by a handle
// after a driver call. Records are ordered as the driver reports them, most
// specific first.
type DiagnosticRecord struct {
	// State is the five character SQLSTATE code.
	State string
	// NativeError is the driver or data source specific error code.
	NativeError int32
	// Message is the diagnostic text as reported by the driver.
	Message string
}

func (r DiagnosticRecord) String() string {
	return fmt.Sprintf("[%s] (%d) %s", r.State, r.NativeError, r.Message)
}

// drainDiagnostics retrieves every diagnostic record currently attached to
// the handle, in order. It must run immediately after the non-success call
// that produced the records and before any other operation touches the same
// handle, since drivers may invalidate diagnostics on the next call.
func drainDiagnostics(api driverAPI, handleType SQLSMALLINT, handle SQLHANDLE) []DiagnosticRecord {
	var records []DiagnosticRecord

	state := make([]byte, sqlStateLength+1)
	msg := make([]byte, sqlMaxMessageLength)

	for rec := SQLSMALLINT(1); ; rec++ {
		native, msgLen, ret := api.GetDiagRec(handleType, handle, rec, state, msg)
		if ret == SQL_NO_DATA || ret == SQL_INVALID_HANDLE || ret == SQL_ERROR {
			break
		}

		// The driver reports the full message length, which excludes the
		// terminating NUL it writes; grow the buffer and retrieve the same
		// record again if ours could not hold both.
		if int(msgLen) >= len(msg) {
			msg = make([]byte, int(msgLen)+1)
			native, msgLen, ret = api.GetDiagRec(handleType, handle, rec, state, msg)
			if ret != SQL_SUCCESS && ret != SQL_SUCCESS_WITH_INFO {
				break
			}
		}

		n := int(msgLen)
		if n > len(msg) {
			n = len(msg)
		}
		records = append(records, DiagnosticRecord{
			State:       string(state[:sqlStateLength]),
			NativeError: int32(native),
			Message:     string(msg[:n]),
		})
	}

	return records
}

// diagError builds a package Error of the given type from the diagnostics of
// the failing handle. The records are drained before anything else touches
// the handle.
func diagError(api driverAPI, typ ErrorType, op string, handleType SQLSMALLINT, handle SQLHANDLE) *Error {
	records := drainDiagnostics(api, handleType, handle)
	e := &Error{
		Type:    typ,
		Op:      op,
		Message: "driver reported an error",
		Records: records,
	}
	if len(records) > 0 {
		e.Message = records[0].Message
		e.Code = records[0].NativeError
	}
	return e
}
